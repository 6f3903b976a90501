package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/trv-controller/internal/model"
)

type GPIO struct {
	// H-bridge legs driving the valve motor
	MotorOpenPin  *int `json:"motor_open"`
	MotorClosePin *int `json:"motor_close"`

	// motor current sense comparator output
	CurrentSensePin *int `json:"current_sense"`

	// misc
	StatusLEDPin      *int `json:"status_led"`
	MainPowerRelayPin *int `json:"main_power_relay"`
}

type Config struct {
	DatabaseFile string
	ConfigFile   string
	LogLevel     zerolog.Level
	SafeMode     bool

	// radio identity and keys
	NodeIDHex string `json:"node_id"`
	KeyFile   string `json:"key_file"`

	// transceiver serial link
	SerialDevice string `json:"serial_device"`
	SerialBaud   int    `json:"serial_baud"`

	// FHT8V pairing code; set over the API or debug tool when absent
	HouseCode1 *int `json:"house_code_1"`
	HouseCode2 *int `json:"house_code_2"`

	// room temperature sensor (DS18B20 on the 1-wire bus)
	TempSensorBus string `json:"temp_sensor_bus"`

	PollIntervalSeconds      int `json:"poll_interval_seconds"`
	TelemetryIntervalSeconds int `json:"telemetry_interval_seconds"`
	APIPort                  int `json:"api_port"`

	BridgeActiveHigh bool `json:"bridge_active_high"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	NtfyTopic string `json:"ntfy_topic"`

	BootScriptFilePath string `json:"boot_script_file_path"`
	OSServicePath      string `json:"os_service_path"`
	MainServicePath    string `json:"main_service_path"`

	GPIO GPIO `json:"gpio"`
}

// Pin helpers resolve the validated pointer fields into model pins.
// Motor legs and the status LED share the bridge polarity; the power
// relay and comparator are active high.

func (cfg *Config) MotorOpenPin() model.GPIOPin {
	return model.GPIOPin{Number: *cfg.GPIO.MotorOpenPin, ActiveHigh: cfg.BridgeActiveHigh}
}

func (cfg *Config) MotorClosePin() model.GPIOPin {
	return model.GPIOPin{Number: *cfg.GPIO.MotorClosePin, ActiveHigh: cfg.BridgeActiveHigh}
}

func (cfg *Config) CurrentSensePin() model.GPIOPin {
	return model.GPIOPin{Number: *cfg.GPIO.CurrentSensePin, ActiveHigh: true}
}

func (cfg *Config) StatusLEDPin() model.GPIOPin {
	return model.GPIOPin{Number: *cfg.GPIO.StatusLEDPin, ActiveHigh: cfg.BridgeActiveHigh}
}

func (cfg *Config) MainPowerPin() model.GPIOPin {
	return model.GPIOPin{Number: *cfg.GPIO.MainPowerRelayPin, ActiveHigh: true}
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.DatabaseFile, "db-file", "data/trv.db", "Path to sqlite database file")
	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.SafeMode, "safe-mode", false, "Leave pins untouched on shutdown")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = 2
	}
	if cfg.TelemetryIntervalSeconds == 0 {
		cfg.TelemetryIntervalSeconds = 240
	}
	if cfg.SerialBaud == 0 {
		cfg.SerialBaud = 115200
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.BootScriptFilePath == "" {
		cfg.BootScriptFilePath = "/usr/local/bin/trv-gpio-setup.sh"
	}
	if cfg.OSServicePath == "" {
		cfg.OSServicePath = "/etc/systemd/system/trv-gpio-setup.service"
	}
	if cfg.MainServicePath == "" {
		cfg.MainServicePath = "/etc/systemd/system/trv-controller.service"
	}

	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) validate() {
	var (
		missingFields []string
		usedPins      = map[int]string{}
		conflicts     []string
	)

	v := reflect.ValueOf(cfg.GPIO)
	t := reflect.TypeOf(cfg.GPIO)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldName := t.Field(i).Tag.Get("json")

		if field.IsNil() {
			missingFields = append(missingFields, "gpio."+fieldName)
			continue
		}

		pin := field.Elem().Int()
		if other, exists := usedPins[int(pin)]; exists {
			conflicts = append(conflicts, fmt.Sprintf("gpio.%s and gpio.%s both use pin %d", fieldName, other, pin))
		} else {
			usedPins[int(pin)] = fieldName
		}
	}

	if len(missingFields) > 0 {
		panic("Missing required GPIO config fields: " + strings.Join(missingFields, ", "))
	}
	if len(conflicts) > 0 {
		panic("Conflicting GPIO pins: " + strings.Join(conflicts, ", "))
	}

	if cfg.SerialDevice == "" {
		panic("Missing required config field: serial_device")
	}

	if (cfg.HouseCode1 == nil) != (cfg.HouseCode2 == nil) {
		panic("house_code_1 and house_code_2 must be set together")
	}
	if cfg.HouseCode1 != nil {
		if *cfg.HouseCode1 < 0 || *cfg.HouseCode1 > 99 || *cfg.HouseCode2 < 0 || *cfg.HouseCode2 > 99 {
			panic(fmt.Sprintf("House code bytes must be in [0,99], got %d/%d", *cfg.HouseCode1, *cfg.HouseCode2))
		}
	}
}

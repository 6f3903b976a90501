package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/trv-controller/internal/config"
	"github.com/thatsimonsguy/trv-controller/internal/model"
	"github.com/thatsimonsguy/trv-controller/internal/pinctrl"
	"github.com/thatsimonsguy/trv-controller/system/shutdown"
)

var safeMode bool

// ValidateInitialPinStates refuses to start with either H-bridge leg
// driven: both legs active at once shorts the bridge, and a single
// active leg means the motor is already running with nobody counting
// ticks.
func ValidateInitialPinStates(cfg *config.Config) error {
	checks := []struct {
		Name       string
		Pin        model.GPIOPin
		ShouldBeOn bool
	}{
		{"motor_open", cfg.MotorOpenPin(), false},
		{"motor_close", cfg.MotorClosePin(), false},
		{"status_led", cfg.StatusLEDPin(), false},
		{"main_power", cfg.MainPowerPin(), false},
	}

	for _, check := range checks {
		level, err := pinctrl.ReadLevel(check.Pin.Number)
		if err != nil {
			return fmt.Errorf("failed to read pin level for %s (GPIO %d): %w", check.Name, check.Pin.Number, err)
		}
		isActive := (check.Pin.ActiveHigh && level) || (!check.Pin.ActiveHigh && !level)
		if isActive != check.ShouldBeOn {
			return fmt.Errorf("pin %d (%s) is in wrong state at startup (expected active=%v)", check.Pin.Number, check.Name, check.ShouldBeOn)
		}
	}

	return nil
}

func SetSafeMode(enabled bool) {
	safeMode = enabled
}

func Read(pin model.GPIOPin) bool {
	level, err := pinctrl.ReadLevel(pin.Number)
	if err != nil {
		shutdown.ShutdownWithError(err, fmt.Sprintf("Failed to read pin level for pin %d", pin.Number))
	}
	return level
}

var Activate = func(pin model.GPIOPin) {
	if safeMode {
		return
	}

	if pin.ActiveHigh {
		err := pinctrl.SetPin(pin.Number, "op", "pn", "dh")
		if err != nil {
			shutdown.ShutdownWithError(err, fmt.Sprintf("Failed to activate pin %d", pin.Number))
		}
		return
	}

	err := pinctrl.SetPin(pin.Number, "op", "pn", "dl")
	if err != nil {
		shutdown.ShutdownWithError(err, fmt.Sprintf("Failed to activate pin %d", pin.Number))
	}
}

var Deactivate = func(pin model.GPIOPin) {
	if safeMode {
		return
	}

	if pin.ActiveHigh {
		err := pinctrl.SetPin(pin.Number, "op", "pn", "dl")
		if err != nil {
			shutdown.ShutdownWithError(err, fmt.Sprintf("Failed to deactivate pin %d", pin.Number))
		}
		return
	}

	err := pinctrl.SetPin(pin.Number, "op", "pn", "dh")
	if err != nil {
		shutdown.ShutdownWithError(err, fmt.Sprintf("Failed to deactivate pin %d", pin.Number))
	}
}

var CurrentlyActive = func(pin model.GPIOPin) bool {
	level := Read(pin)
	return pin.ActiveHigh == level
}

func ReadSensorTempWithRetries(sensorPath string, retries int) float64 {
	temp, err := ReadSensorTemp(sensorPath)
	if retries < 0 {
		shutdown.ShutdownWithError(err, "max sensor retries reached")
	}
	if err != nil && retries > 0 {
		time.Sleep(2 * time.Second)
		return ReadSensorTempWithRetries(sensorPath, retries-1)
	}
	return temp
}

// ReadSensorTemp reads a DS18B20 on the 1-wire bus and returns
// degrees Celsius.
var ReadSensorTemp = func(sensorPath string) (float64, error) {
	file := filepath.Join(sensorPath, "w1_slave")
	data, err := os.ReadFile(file)
	if err != nil {
		log.Error().Err(err).Msg("failed to read sensor data")
		return 0.0, err
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 || !strings.Contains(lines[1], "t=") {
		err := fmt.Errorf("temperature data missing or malformed in %s", file)
		log.Error().Err(err).Msg("temperature data missing or malformed")
		return 0.0, err
	}

	parts := strings.Split(lines[1], "t=")
	if len(parts) != 2 {
		err := fmt.Errorf("could not parse temperature line %q", lines[1])
		log.Error().Err(err).Msg("could not parse temperature line")
		return 0.0, err
	}

	tempMilliC, err := strconv.Atoi(parts[1])
	if err != nil {
		log.Error().Err(err).Msg("failed to convert temperature to int")
		return 0.0, err
	}

	return float64(tempMilliC) / 1000.0, nil
}

package config

import (
	"testing"
)

func intPtr(n int) *int {
	return &n
}

func validConfig() Config {
	return Config{
		SerialDevice: "/dev/ttyAMA0",
		GPIO: GPIO{
			MotorOpenPin:      intPtr(17),
			MotorClosePin:     intPtr(27),
			CurrentSensePin:   intPtr(22),
			StatusLEDPin:      intPtr(5),
			MainPowerRelayPin: intPtr(23),
		},
	}
}

func TestValidate_GPIOValid(t *testing.T) {
	cfg := validConfig()
	cfg.validate() // should not panic
}

func TestValidate_GPIO_Missing(t *testing.T) {
	cfg := validConfig()
	cfg.GPIO.MotorClosePin = nil

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to missing GPIO config, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_GPIO_Conflict(t *testing.T) {
	cfg := validConfig()
	cfg.GPIO.MotorClosePin = intPtr(*cfg.GPIO.MotorOpenPin)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to conflicting pin numbers, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_MissingSerialDevice(t *testing.T) {
	cfg := validConfig()
	cfg.SerialDevice = ""

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to missing serial device, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_HouseCodeHalfPair(t *testing.T) {
	cfg := validConfig()
	cfg.HouseCode1 = intPtr(12)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to half-set house code, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_HouseCodeOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.HouseCode1 = intPtr(12)
	cfg.HouseCode2 = intPtr(120)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to out-of-range house code, but got none")
		}
	}()

	cfg.validate()
}

package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/trv-controller/internal/env"
	"github.com/thatsimonsguy/trv-controller/internal/model"
	"github.com/thatsimonsguy/trv-controller/internal/pinctrl"
)

// Shutdown releases both H-bridge legs before dropping the power
// relay so the motor can never be left running across a restart.
func Shutdown() {
	if !env.Cfg.SafeMode {
		release(env.Cfg.MotorOpenPin())
		release(env.Cfg.MotorClosePin())
		log.Info().Msg("Motor bridge released")

		release(env.Cfg.MainPowerPin())
		log.Info().Msg("Main power relay deactivated")
	}
	os.Exit(0)
}

func release(pin model.GPIOPin) {
	if pin.ActiveHigh {
		pinctrl.SetPin(pin.Number, "op", "pn", "dl")
	} else {
		pinctrl.SetPin(pin.Number, "op", "pn", "dh")
	}
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown()
}

// Package valvecontroller runs the 2s minor cycle driving the valve
// motor state machine towards the persisted target position.
package valvecontroller

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/trv-controller/db"
	"github.com/thatsimonsguy/trv-controller/internal/datadog"
	"github.com/thatsimonsguy/trv-controller/internal/env"
	"github.com/thatsimonsguy/trv-controller/internal/model"
	"github.com/thatsimonsguy/trv-controller/internal/motor"
	"github.com/thatsimonsguy/trv-controller/internal/notifications"
	"github.com/thatsimonsguy/trv-controller/internal/valve"
)

// Run starts the motor poll loop.
func Run(dbConn *sql.DB, motorValve *valve.CurrentSenseValveMotor, clock *motor.SubCycleClock) {
	go func() {
		log.Info().Msg("Starting valve controller")

		notifiedError := false
		for {
			time.Sleep(time.Duration(env.Cfg.PollIntervalSeconds) * time.Second)
			notifiedError = pollOnce(dbConn, motorValve, clock, notifiedError)
		}
	}()
}

// pollOnce runs one control cycle and reports whether a terminal error
// has already been notified.
func pollOnce(dbConn *sql.DB, motorValve *valve.CurrentSenseValveMotor, clock *motor.SubCycleClock, notifiedError bool) bool {
	clock.Restart()

	target, err := db.GetTargetPercent(dbConn)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read target percent")
	} else {
		motorValve.SetTargetPC(target)
	}

	motorValve.Poll()

	datadog.Gauge("valve.current_percent", float64(motorValve.CurrentPC()), "component:valve")
	datadog.Gauge("valve.target_percent", float64(motorValve.TargetPC()), "component:valve")

	log.Debug().
		Str("state", motorValve.State().String()).
		Uint8("current_pc", motorValve.CurrentPC()).
		Uint8("target_pc", motorValve.TargetPC()).
		Msg("Valve poll")

	if motorValve.IsInErrorState() && !notifiedError {
		log.Error().Msg("Valve drive entered terminal error state")
		if err := notifications.Send("TRV valve fault",
			"Valve motor drive has failed and needs manual attention"); err != nil {
			log.Warn().Err(err).Msg("Failed to send valve fault notification")
		}
		return true
	}
	return notifiedError
}

// Status snapshots the valve drive for the API and telemetry.
func Status(motorValve *valve.CurrentSenseValveMotor) model.ValveStatus {
	return model.ValveStatus{
		State:          motorValve.State().String(),
		CurrentPercent: motorValve.CurrentPC(),
		TargetPercent:  motorValve.TargetPC(),
		Proportional:   !motorValve.InNonProportionalMode(),
		CallForHeat:    motorValve.CurrentPC() >= motorValve.MinPercentOpen(),
	}
}

// Package motor drives the valve tail motor through a two-leg H-bridge
// with an overcurrent comparator on a sense pin, implementing the
// low-level contract the valve state machine runs against.
package motor

import (
	"time"

	"github.com/thatsimonsguy/trv-controller/internal/config"
	"github.com/thatsimonsguy/trv-controller/internal/gpio"
	"github.com/thatsimonsguy/trv-controller/internal/model"
	"github.com/thatsimonsguy/trv-controller/internal/valve"
)

// TickDuration is one motor sub-cycle tick of wall-clock time.
const TickDuration = 8 * time.Millisecond

var sleepTick = func() { time.Sleep(TickDuration) }

// Driver is an H-bridge valve.HardwareMotorDriver. Only one leg is
// ever energized at a time; both legs released stops the motor.
type Driver struct {
	openPin  model.GPIOPin
	closePin model.GPIOPin
	sensePin model.GPIOPin
}

func New(cfg *config.Config) *Driver {
	return &Driver{
		openPin:  cfg.MotorOpenPin(),
		closePin: cfg.MotorClosePin(),
		sensePin: cfg.CurrentSensePin(),
	}
}

// IsCurrentHigh reports the overcurrent comparator tripping, which
// means the motor has stalled against an end stop.
func (d *Driver) IsCurrentHigh(dir valve.MotorDrive) bool {
	if dir == valve.MotorOff {
		return false
	}
	return gpio.CurrentlyActive(d.sensePin)
}

func (d *Driver) stop() {
	gpio.Deactivate(d.openPin)
	gpio.Deactivate(d.closePin)
}

// MotorRun energizes the selected leg for up to maxRunTicks ticks,
// feeding travel ticks to the callback and stopping immediately on
// overcurrent. A zero tick count still runs one tick, the shortest
// useful pulse. The motor is left running on a clean tick-limited
// return; callers stop it with a MotorOff call.
func (d *Driver) MotorRun(maxRunTicks uint8, dir valve.MotorDrive, cb valve.CallbackHandler) {
	switch dir {
	case valve.MotorDriveOpening:
		gpio.Deactivate(d.closePin)
		gpio.Activate(d.openPin)
	case valve.MotorDriveClosing:
		gpio.Deactivate(d.openPin)
		gpio.Activate(d.closePin)
	default:
		d.stop()
		return
	}

	opening := dir == valve.MotorDriveOpening
	ticks := int(maxRunTicks)
	if ticks == 0 {
		ticks = 1
	}
	for i := 0; i < ticks; i++ {
		sleepTick()
		if d.IsCurrentHigh(dir) {
			d.stop()
			cb.SignalHittingEndStop(opening)
			return
		}
		cb.SignalRunSCTTick(opening)
	}
}

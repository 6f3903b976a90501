package motor

import "time"

const (
	// MinMotorDRTicks is the smallest dead-reckoning run worth
	// counting; shorter pulses mostly fight stiction.
	MinMotorDRTicks = 32

	// SCTAbsLimit is the latest sub-cycle tick at which a new motor
	// run may start, leaving headroom before the 2s cycle ends.
	SCTAbsLimit = 200
)

// SubCycleClock measures progress through the 2s minor poll cycle in
// sub-cycle ticks, saturating at 255 when a cycle overruns.
type SubCycleClock struct {
	start time.Time
}

func NewSubCycleClock() *SubCycleClock {
	return &SubCycleClock{start: time.Now()}
}

// Restart marks the start of a new minor cycle.
func (c *SubCycleClock) Restart() {
	c.start = time.Now()
}

// Ticks returns elapsed ticks since the cycle start.
func (c *SubCycleClock) Ticks() uint8 {
	t := time.Since(c.start) / TickDuration
	if t > 255 {
		return 255
	}
	return uint8(t)
}

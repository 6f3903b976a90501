package valve_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/trv-controller/internal/valve"
)

func TestCalibrationParametersCompute(t *testing.T) {
	cp := valve.NewCalibrationParameters(32)
	require.True(t, cp.UpdateAndCompute(1000, 1000))
	assert.Equal(t, uint8(4), cp.ApproxPrecisionPC())
	assert.Equal(t, uint16(1000), cp.TicksFromOpenToClosed())
	assert.Equal(t, uint16(1000), cp.TicksFromClosedToOpen())
}

func TestCalibrationParametersRejectPoorPrecision(t *testing.T) {
	// Pulse size is a large fraction of total travel: precision over
	// 25% is unusable.
	cp := valve.NewCalibrationParameters(32)
	assert.False(t, cp.UpdateAndCompute(100, 100))
	assert.Greater(t, cp.ApproxPrecisionPC(), uint8(25))
}

func TestCalibrationParametersRejectSmallRatio(t *testing.T) {
	// Tiny pulse forces the scaled ratio below 4 bits even though the
	// precision itself is fine.
	cp := valve.NewCalibrationParameters(10)
	assert.False(t, cp.UpdateAndCompute(1000, 1000))
	assert.LessOrEqual(t, cp.ApproxPrecisionPC(), uint8(25))
}

func TestComputePosition(t *testing.T) {
	cp := valve.NewCalibrationParameters(32)
	require.True(t, cp.UpdateAndCompute(1000, 1000))

	ticksFromOpen, ticksReverse := uint16(0), uint16(0)
	assert.Equal(t, uint8(100), cp.ComputePosition(&ticksFromOpen, &ticksReverse))

	ticksFromOpen = 1000
	assert.Equal(t, uint8(0), cp.ComputePosition(&ticksFromOpen, &ticksReverse))

	ticksFromOpen = 500
	assert.Equal(t, uint8(50), cp.ComputePosition(&ticksFromOpen, &ticksReverse))

	// Reverse ticks fold back into the from-open count in blocks.
	ticksFromOpen, ticksReverse = 500, 100
	pc := cp.ComputePosition(&ticksFromOpen, &ticksReverse)
	assert.Greater(t, pc, uint8(50))
	assert.Less(t, ticksReverse, uint16(32))
}

// simMotor models a motor moving a pin along a fixed travel measured
// in sub-cycle ticks; position 0 is the fully-open (retracted) end.
// It reports an end stop when driven against either end, and a jammed
// motor neither moves nor hits a stop.
type simMotor struct {
	pos    int
	travel int
	jam    bool
}

func (m *simMotor) IsCurrentHigh(valve.MotorDrive) bool { return false }

func (m *simMotor) MotorRun(maxRunTicks uint8, dir valve.MotorDrive, cb valve.CallbackHandler) {
	if dir == valve.MotorOff || m.jam {
		return
	}
	opening := dir == valve.MotorDriveOpening
	for i := 0; i < int(maxRunTicks); i++ {
		if opening {
			if m.pos == 0 {
				cb.SignalHittingEndStop(true)
				return
			}
			m.pos--
		} else {
			if m.pos == m.travel {
				cb.SignalHittingEndStop(false)
				return
			}
			m.pos++
		}
		cb.SignalRunSCTTick(opening)
	}
}

const (
	testMinDRTicks  = 32
	testSctAbsLimit = 200
)

func newTestMotor(sim *simMotor) *valve.CurrentSenseValveMotor {
	return valve.New(sim, func() uint8 { return 0 }, testMinDRTicks, testSctAbsLimit)
}

// pollUntilNormal drives the state machine through power-up, pin
// withdrawal and calibration, confirming valve fitting when asked.
func pollUntilNormal(t *testing.T, v *valve.CurrentSenseValveMotor, maxPolls int) {
	t.Helper()
	for i := 0; i < maxPolls; i++ {
		v.Poll()
		if v.IsWaitingForValveToBeFitted() {
			v.SignalValveFitted()
		}
		if v.IsInNormalRunState() {
			return
		}
		require.False(t, v.IsInErrorState(), "error state after %d polls", i+1)
	}
	t.Fatalf("not in normal state after %d polls", maxPolls)
}

func TestPowerUpThroughCalibrationToNormal(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000}
	v := newTestMotor(sim)

	pollUntilNormal(t, v, 60)
	assert.False(t, v.InNonProportionalMode())
	// Calibration leaves the valve fully open.
	assert.Equal(t, uint8(100), v.CurrentPC())
	assert.Zero(t, sim.pos)
}

func TestBinaryCloseToEndStop(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000}
	v := newTestMotor(sim)
	pollUntilNormal(t, v, 60)

	// A target at the bottom of the scale drives clear to the end
	// stop: first a fast run landing tentatively, then a slow pulse
	// to seat.
	v.SetTargetPC(0)
	for i := 0; i < 10 && v.CurrentPC() != 0; i++ {
		v.Poll()
	}
	assert.Equal(t, uint8(0), v.CurrentPC())
	assert.Equal(t, sim.travel, sim.pos)
	assert.True(t, v.IsInNormalRunState())
}

func TestProportionalPositioning(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000}
	v := newTestMotor(sim)
	pollUntilNormal(t, v, 60)

	v.SetTargetPC(0)
	for i := 0; i < 10 && v.CurrentPC() != 0; i++ {
		v.Poll()
	}
	require.Equal(t, uint8(0), v.CurrentPC())

	// Mid-scale target is tracked by dead reckoning to within the
	// calibration precision.
	v.SetTargetPC(60)
	for i := 0; i < 40; i++ {
		v.Poll()
	}
	assert.True(t, v.IsInNormalRunState())
	assert.InDelta(t, 60, int(v.CurrentPC()), 4)

	// Once within tolerance the valve must not hunt.
	settled := v.CurrentPC()
	for i := 0; i < 5; i++ {
		v.Poll()
	}
	assert.Equal(t, settled, v.CurrentPC())
}

func TestJammedMotorEndsInErrorState(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000, jam: true}
	v := newTestMotor(sim)

	// The pin withdrawal makes no progress, so the travel timeout
	// must eventually trip rather than spinning forever.
	for i := 0; i < 150 && !v.IsInErrorState(); i++ {
		v.Poll()
	}
	assert.True(t, v.IsInErrorState())
	assert.False(t, v.IsInNormalRunState())
}

func TestLowBatteryDefersCalibrationAndClosing(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000}
	v := newTestMotor(sim)
	low := true
	v.LowBattery = func() bool { return low }

	// Power-up still completes on a low battery, but calibration is
	// deferred and the driver drops into binary mode.
	pollUntilNormal(t, v, 80)
	assert.True(t, v.InNonProportionalMode())

	// Closing is refused while the battery is low.
	before := v.CurrentPC()
	v.SetTargetPC(0)
	for i := 0; i < 5; i++ {
		v.Poll()
	}
	assert.Equal(t, before, v.CurrentPC())

	// Battery recovery triggers the pending recalibration.
	low = false
	v.Poll()
	assert.Equal(t, valve.StateCalibrating, v.State())
}

// Status getters are called from the telemetry and API goroutines
// while the controller goroutine is inside Poll; exercised here so the
// race detector guards that boundary.
func TestStatusReadsSafeDuringPoll(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000}
	v := newTestMotor(sim)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			_ = v.State()
			_ = v.CurrentPC()
			_ = v.TargetPC()
			_ = v.InNonProportionalMode()
			_ = v.MinPercentOpen()
			_ = v.Calibration()
		}
	}()
	go func() {
		defer wg.Done()
		pc := uint8(0)
		for {
			select {
			case <-done:
				return
			default:
			}
			v.SetTargetPC(pc % 100)
			pc++
		}
	}()

	for i := 0; i < 80; i++ {
		v.Poll()
		if v.IsWaitingForValveToBeFitted() {
			v.SignalValveFitted()
		}
	}
	close(done)
	wg.Wait()
	assert.False(t, v.IsInErrorState())
}

// burstMotor moves at most burst ticks per MotorRun call, so the same
// physical travel reaches the tick callbacks through a different
// number of runs and polls depending on the burst size.
type burstMotor struct {
	simMotor
	burst uint8
}

func (m *burstMotor) MotorRun(maxRunTicks uint8, dir valve.MotorDrive, cb valve.CallbackHandler) {
	if maxRunTicks > m.burst {
		maxRunTicks = m.burst
	}
	m.simMotor.MotorRun(maxRunTicks, dir, cb)
}

func TestCalibrationIndependentOfTickInterleaving(t *testing.T) {
	calibrate := func(burst uint8) valve.CalibrationParameters {
		sim := &burstMotor{simMotor: simMotor{pos: 500, travel: 1000}, burst: burst}
		v := valve.New(sim, func() uint8 { return 0 }, testMinDRTicks, testSctAbsLimit)
		pollUntilNormal(t, v, 250)
		return v.Calibration()
	}

	// Identical travel must calibrate identically however the tick
	// feedback is chopped up.
	ref := calibrate(255)
	require.Equal(t, uint16(1000), ref.TicksFromOpenToClosed())
	for _, burst := range []uint8{97, 31, 6} {
		cp := calibrate(burst)
		assert.Equal(t, ref.TicksFromOpenToClosed(), cp.TicksFromOpenToClosed(), "burst %d", burst)
		assert.Equal(t, ref.TicksFromClosedToOpen(), cp.TicksFromClosedToOpen(), "burst %d", burst)
		assert.Equal(t, ref.ApproxPrecisionPC(), cp.ApproxPrecisionPC(), "burst %d", burst)
	}
}

func TestSignalValveFittedIgnoredOutsideWithdrawnState(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000}
	v := newTestMotor(sim)
	v.SignalValveFitted()
	v.Poll()
	assert.Equal(t, valve.StateInitWaiting, v.State())
}

func TestMinPercentOpenCoarseWithoutEncoder(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000}
	v := newTestMotor(sim)
	pollUntilNormal(t, v, 60)
	// Dead reckoning only, so the safe minimum stays well above the
	// binary threshold.
	assert.GreaterOrEqual(t, v.MinPercentOpen(), uint8(valve.DefaultValvePCSaferOpen))
}

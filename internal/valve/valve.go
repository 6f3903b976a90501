// Package valve drives a valve tail motor with overcurrent end-stop
// sensing, calibrating full travel by dead reckoning and then
// tracking a target percent-open position.
package valve

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// MotorDrive is a legal motor drive state.
type MotorDrive uint8

const (
	MotorOff MotorDrive = iota
	MotorDriveClosing
	MotorDriveOpening
)

// CallbackHandler receives motion feedback during a motor run. The
// callbacks may be invoked from the driver's sensing goroutine and
// must be safe to call while a run is in progress.
type CallbackHandler interface {
	// SignalHittingEndStop is called when an end stop is hit, eg on
	// overcurrent detection.
	SignalHittingEndStop(opening bool)
	// SignalRunSCTTick is called with each motor run sub-cycle tick.
	SignalRunSCTTick(opening bool)
}

// HardwareMotorDriver is the low-level H-bridge motor contract.
type HardwareMotorDriver interface {
	// IsCurrentHigh polls whether motor current is very high,
	// indicating an end stop or stall.
	IsCurrentHigh(dir MotorDrive) bool
	// MotorRun runs or stops the motor. maxRunTicks caps the run
	// length in sub-cycle ticks; zero runs for the shortest
	// reasonable time. Stopping should be fast.
	MotorRun(maxRunTicks uint8, dir MotorDrive, cb CallbackHandler)
}

// Default thresholds on the percent-open scale shared with the rest
// of the control stack.
const (
	// DefaultValvePCMinReallyOpen is the minimum at which a valve is
	// usually significantly open.
	DefaultValvePCMinReallyOpen = 15
	// DefaultValvePCSaferOpen is a safer value for a valve to very
	// likely be significantly open; also the binary-mode threshold.
	DefaultValvePCSaferOpen = 50
	// DefaultValvePCModeratelyOpen is where significant heating power
	// is being delivered.
	DefaultValvePCModeratelyOpen = 67
)

const (
	// Maximum time to move the pin between fully retracted and fully
	// extended; a timeout for when mechanics go wrong.
	maxTravelSeconds = 4 * 60
	// MaxTravelWallclock2sTicks is that limit in 2s poll ticks.
	MaxTravelWallclock2sTicks = maxTravelSeconds / 2

	// Delay before starting to retract the pin after power-up, long
	// enough to leave time for provisioning over the CLI.
	initialRetractDelaySeconds = 30
)

// State is the major state of the driver; there may be micro-states
// within most of these.
type State uint8

const (
	StateInit State = iota
	StateInitWaiting
	StatePinWithdrawing
	StatePinWithdrawn
	StateCalibrating
	StateNormal
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateInitWaiting:
		return "initWaiting"
	case StatePinWithdrawing:
		return "pinWithdrawing"
	case StatePinWithdrawn:
		return "pinWithdrawn"
	case StateCalibrating:
		return "calibrating"
	case StateNormal:
		return "normal"
	default:
		return "error"
	}
}

// CurrentSenseValveMotor runs a motor with current-sense end-stop
// detection through power-up, pin withdrawal for fitting, travel
// calibration and then normal target tracking, polled every 2s.
type CurrentSenseValveMotor struct {
	hw HardwareMotorDriver

	// GetSubCycleTime returns the current position within the minor
	// cycle in sub-cycle ticks; motor runs must not start beyond
	// sctAbsLimit.
	getSubCycleTime func() uint8
	sctAbsLimit     uint8

	// LowBattery, when non-nil, reports that the supply is too low
	// for energetic motor activity. MinimiseActivity, when non-nil,
	// reports that activity should be suppressed to avoid disturbing
	// occupants, eg in a dark bedroom.
	LowBattery       func() bool
	MinimiseActivity func() bool

	minOpenPC    uint8
	fairlyOpenPC uint8

	// Per-state scratch, cleared on every state change.
	ticksWaited      uint8  // initWaiting
	wallclock2sTicks uint16 // pinWithdrawing / calibrating travel timeout
	calibState       uint8  // calibrating micro-state
	calibTfotc       uint16 // calibrating: measured open-to-closed ticks
	calibTfcto       uint16 // calibrating: measured closed-to-open ticks
	valveFitted      bool   // pinWithdrawn: user signal received

	// mu guards the tick counters and end-stop flag, which the
	// hardware driver updates through the callbacks during a run, and
	// the calibration parameters, which other goroutines read through
	// MinPercentOpen and Calibration while Poll recalibrates.
	mu              sync.Mutex
	ticksFromOpen   uint16
	ticksReverse    uint16
	endStopDetected bool
	cp              CalibrationParameters

	// Status fields, read by the telemetry and API goroutines while
	// Poll mutates them. state holds a State, the PC fields a uint8.
	state              atomic.Uint32
	needsRecalibrating atomic.Bool
	currentPC          atomic.Uint32
	targetPC           atomic.Uint32
}

const maxTicksFromOpen = ^uint16(0)

// New returns a driver in its power-up state.
//
// getSubCycleTime reports progress through the 2s minor cycle in
// sub-cycle ticks and must not be nil; minMotorDRTicks is the
// dead-reckoning pulse length; sctAbsLimit is the latest tick at
// which a motor run may still start.
func New(hw HardwareMotorDriver, getSubCycleTime func() uint8, minMotorDRTicks, sctAbsLimit uint8) *CurrentSenseValveMotor {
	v := &CurrentSenseValveMotor{
		hw:              hw,
		getSubCycleTime: getSubCycleTime,
		sctAbsLimit:     sctAbsLimit,
		minOpenPC:       DefaultValvePCMinReallyOpen,
		fairlyOpenPC:    DefaultValvePCModeratelyOpen,
		cp:              NewCalibrationParameters(minMotorDRTicks),
	}
	v.state.Store(uint32(StateInit))
	// Target starts partly open but below call-for-heat, a safe
	// frost-protection position.
	v.targetPC.Store(uint32(DefaultValvePCSaferOpen - 1))
	v.needsRecalibrating.Store(true)
	return v
}

// State returns the major state, mostly for testing and telemetry.
func (v *CurrentSenseValveMotor) State() State { return State(v.state.Load()) }

// CurrentPC returns the current estimated percent open in [0,100].
func (v *CurrentSenseValveMotor) CurrentPC() uint8 { return uint8(v.currentPC.Load()) }

// TargetPC returns the target percent open.
func (v *CurrentSenseValveMotor) TargetPC() uint8 { return uint8(v.targetPC.Load()) }

// SetTargetPC sets the target percent open, clamped to 100.
func (v *CurrentSenseValveMotor) SetTargetPC(pc uint8) {
	if pc > 100 {
		pc = 100
	}
	v.targetPC.Store(uint32(pc))
}

// IsWaitingForValveToBeFitted reports that the pin is withdrawn and
// the driver is waiting for the user to confirm the head is fitted.
func (v *CurrentSenseValveMotor) IsWaitingForValveToBeFitted() bool {
	return v.State() == StatePinWithdrawn
}

// SignalValveFitted is the user confirmation that the valve head has
// been fitted onto the tail; ignored in any other state.
func (v *CurrentSenseValveMotor) SignalValveFitted() {
	if v.IsWaitingForValveToBeFitted() {
		v.valveFitted = true
	}
}

// IsInNormalRunState reports the driver is neither in error nor still
// initialising/calibrating.
func (v *CurrentSenseValveMotor) IsInNormalRunState() bool { return v.State() == StateNormal }

// IsInErrorState reports a (normally terminal) failure.
func (v *CurrentSenseValveMotor) IsInErrorState() bool { return v.State() == StateError }

// InNonProportionalMode reports that dead-reckoning is unusable and
// the valve is being run binary, end stop to end stop.
func (v *CurrentSenseValveMotor) InNonProportionalMode() bool { return v.needsRecalibrating.Load() }

// MinPercentOpen estimates the minimum percent open for significant
// flow. Without a positional encoder this stays deliberately coarse.
func (v *CurrentSenseValveMotor) MinPercentOpen() uint8 {
	v.mu.Lock()
	eps := v.cp.ApproxPrecisionPC()
	v.mu.Unlock()
	pc := 50 + eps
	if pc < DefaultValvePCSaferOpen {
		pc = DefaultValvePCSaferOpen
	}
	return pc
}

// Calibration returns a copy of the current calibration parameters.
func (v *CurrentSenseValveMotor) Calibration() CalibrationParameters {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cp
}

// SignalHittingEndStop records an end-stop hit; safe to call while a
// run is in progress.
func (v *CurrentSenseValveMotor) SignalHittingEndStop(bool) {
	v.mu.Lock()
	v.endStopDetected = true
	v.mu.Unlock()
}

// SignalRunSCTTick accumulates one tick of motor travel; safe to call
// while a run is in progress. Ticks in the two directions are kept in
// separate counters and reconciled later in whole blocks.
func (v *CurrentSenseValveMotor) SignalRunSCTTick(opening bool) {
	v.mu.Lock()
	if !opening {
		if v.ticksFromOpen < maxTicksFromOpen {
			v.ticksFromOpen++
		}
	} else {
		if v.ticksReverse < maxTicksFromOpen {
			v.ticksReverse++
		}
	}
	v.mu.Unlock()
}

func (v *CurrentSenseValveMotor) changeState(s State) {
	v.state.Store(uint32(s))
	v.ticksWaited = 0
	v.wallclock2sTicks = 0
	v.calibState = 0
	v.calibTfotc = 0
	v.calibTfcto = 0
	v.valveFitted = false
}

// wiggle gives minimal tactile feedback that the unit is working, and
// may help free stuck mechanics. Finishes with the motor off.
func (v *CurrentSenseValveMotor) wiggle() {
	v.hw.MotorRun(0, MotorOff, v)
	v.hw.MotorRun(0, MotorDriveOpening, v)
	v.hw.MotorRun(0, MotorDriveClosing, v)
	v.hw.MotorRun(0, MotorOff, v)
}

func (v *CurrentSenseValveMotor) clearEndStop() {
	v.mu.Lock()
	v.endStopDetected = false
	v.mu.Unlock()
}

func (v *CurrentSenseValveMotor) endStopHit() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.endStopDetected
}

// runFastTowardsEndStop runs as far as possible towards an end stop
// in this call, riding through stiff mechanics, and reports whether
// the stop was apparently hit. May need further calls in later cycles.
func (v *CurrentSenseValveMotor) runFastTowardsEndStop(toOpen bool) bool {
	v.clearEndStop()
	dir := MotorDriveClosing
	if toOpen {
		dir = MotorDriveOpening
	}
	v.hw.MotorRun(^uint8(0), dir, v)
	v.hw.MotorRun(0, MotorOff, v)
	if !v.endStopHit() {
		return false
	}
	// One short pulse to seat firmly; re-checking the stop here also
	// filters out a single spurious current spike mid-travel.
	return v.runTowardsEndStop(toOpen)
}

// runTowardsEndStop runs one dead-reckoning pulse towards an end stop
// at calibration speed, and reports whether the stop was hit.
func (v *CurrentSenseValveMotor) runTowardsEndStop(toOpen bool) bool {
	v.clearEndStop()
	dir := MotorDriveClosing
	if toOpen {
		dir = MotorDriveOpening
	}
	v.hw.MotorRun(v.cp.MinMotorDRTicks(), dir, v)
	v.hw.MotorRun(0, MotorOff, v)
	return v.endStopHit()
}

// runTowardsEndStopSpeed picks the cautious pulse when asked to run
// gently, eg on a low battery, else the fast run.
func (v *CurrentSenseValveMotor) runTowardsEndStopSpeed(toOpen, gently bool) bool {
	if gently {
		return v.runTowardsEndStop(toOpen)
	}
	return v.runFastTowardsEndStop(toOpen)
}

// resetPosition pins the estimated position to the given end of
// travel and zeroes the tick counters. A tentative reset lands one
// percent shy of the end so that normal running finishes the seating
// with a slow pulse.
func (v *CurrentSenseValveMotor) resetPosition(open, tentative bool) {
	v.mu.Lock()
	if open {
		v.ticksFromOpen = 0
	} else {
		v.ticksFromOpen = v.cp.TicksFromOpenToClosed()
	}
	v.ticksReverse = 0
	v.mu.Unlock()
	switch {
	case open && tentative:
		v.currentPC.Store(99)
	case open:
		v.currentPC.Store(100)
	case tentative:
		v.currentPC.Store(1)
	default:
		v.currentPC.Store(0)
	}
}

// recomputePosition refreshes the percent-open estimate from the tick
// counters; a no-op until calibration is in place.
func (v *CurrentSenseValveMotor) recomputePosition() {
	if v.needsRecalibrating.Load() {
		return
	}
	v.mu.Lock()
	pc := v.cp.ComputePosition(&v.ticksFromOpen, &v.ticksReverse)
	v.mu.Unlock()
	v.currentPC.Store(uint32(pc))
}

// reportTrackingError notes that dead reckoning has drifted badly
// enough to need a full recalibration.
func (v *CurrentSenseValveMotor) reportTrackingError() {
	log.Warn().Uint8("current_pc", v.CurrentPC()).Uint8("target_pc", v.TargetPC()).
		Msg("valve tracking error, recalibration needed")
	v.needsRecalibrating.Store(true)
}

func (v *CurrentSenseValveMotor) lowBattery() bool {
	return v.LowBattery != nil && v.LowBattery()
}

// shouldDeferCalibration reports that running a calibration now would
// be a bad idea, eg on low battery or in a bedroom at night.
func (v *CurrentSenseValveMotor) shouldDeferCalibration() bool {
	return v.lowBattery() || (v.MinimiseActivity != nil && v.MinimiseActivity())
}

// computeSctAbsLimitDR is the latest sub-cycle tick at which a
// dead-reckoning pulse may still start.
func (v *CurrentSenseValveMotor) computeSctAbsLimitDR() uint8 {
	return v.sctAbsLimit - v.cp.MinMotorDRTicks()
}

// Poll runs the state machine. Call regularly, nominally every 2s;
// missed polls are tolerated and just slow movement down. May block
// for hundreds of milliseconds while the motor runs.
func (v *CurrentSenseValveMotor) Poll() {
	// Too late in the minor cycle to safely start the motor.
	if v.getSubCycleTime() >= v.sctAbsLimit {
		return
	}

	switch v.State() {
	case StateInit:
		// Tactile feedback, and may free stuck mechanics.
		v.wiggle()
		v.changeState(StateInitWaiting)

	case StateInitWaiting:
		// Strategic pause before withdrawing the pin, leaving time
		// for provisioning just after power-up. Assumes 2s polls.
		if v.ticksWaited < initialRetractDelaySeconds/2 {
			v.ticksWaited++
			break
		}
		v.wiggle()
		v.changeState(StatePinWithdrawing)

	case StatePinWithdrawing:
		// Taking improbably long means the motor or mechanics have
		// failed; give up without panicking so that the unit can
		// still report telemetry.
		v.wallclock2sTicks++
		if v.wallclock2sTicks > MaxTravelWallclock2sTicks {
			log.Error().Msg("valve pin withdraw fail")
			v.changeState(StateError)
			break
		}
		if v.runTowardsEndStopSpeed(true, v.lowBattery()) {
			v.resetPosition(true, true)
			v.changeState(StatePinWithdrawn)
		}

	case StatePinWithdrawn:
		// Wait for the user to confirm the head is fitted.
		if v.valveFitted {
			v.wiggle()
			v.changeState(StateCalibrating)
		}

	case StateCalibrating:
		v.pollCalibrating()

	case StateNormal:
		v.pollNormal()

	default:
		v.hw.MotorRun(0, MotorOff, v)
		log.Error().Str("state", v.State().String()).Msg("valve in error state")
		v.changeState(StateError)
	}
}

// pollCalibrating measures full travel in each direction through a
// sequence of micro-states, one end stop at a time.
func (v *CurrentSenseValveMotor) pollCalibrating() {
	v.needsRecalibrating.Store(true)

	if v.shouldDeferCalibration() {
		v.changeState(StateNormal)
		return
	}

	v.wallclock2sTicks++
	if v.wallclock2sTicks > MaxTravelWallclock2sTicks {
		log.Error().Msg("valve calibration fail")
		v.changeState(StateError)
		return
	}

	switch v.calibState {
	case 0:
		log.Info().Msg("valve calibrating")
		v.calibState++

	case 1:
		// Run fast to fully retracted (nominally fully open).
		if v.runFastTowardsEndStop(true) {
			v.mu.Lock()
			v.ticksFromOpen = 0
			v.ticksReverse = 0
			v.mu.Unlock()
			v.wallclock2sTicks = 0
			v.calibState++
		}

	case 2:
		// Run the pin to fully extended (valve closed), pulsing while
		// plenty of sub-cycle remains.
		for {
			if v.runTowardsEndStop(false) {
				v.mu.Lock()
				v.calibTfotc = v.ticksFromOpen
				v.mu.Unlock()
				v.wallclock2sTicks = 0
				v.calibState++
				break
			}
			if v.getSubCycleTime() > v.computeSctAbsLimitDR() {
				break
			}
		}

	case 3:
		// Back to fully retracted, measuring the reverse direction.
		for {
			if v.runTowardsEndStop(true) {
				v.mu.Lock()
				tfcto := v.ticksReverse
				v.mu.Unlock()
				// A run much shorter than the other direction means a
				// premature stop; stay in this micro-state and retry.
				if tfcto >= v.calibTfotc>>1 {
					v.calibTfcto = tfcto
					v.mu.Lock()
					v.ticksFromOpen = 0
					v.ticksReverse = 0
					v.mu.Unlock()
					v.wallclock2sTicks = 0
					v.calibState++
				}
				break
			}
			if v.getSubCycleTime() > v.computeSctAbsLimitDR() {
				break
			}
		}

	case 4:
		v.mu.Lock()
		usable := v.cp.UpdateAndCompute(v.calibTfotc, v.calibTfcto)
		eps := v.cp.ApproxPrecisionPC()
		v.mu.Unlock()
		if !usable {
			log.Error().
				Uint16("ticks_open_to_closed", v.calibTfotc).
				Uint16("ticks_closed_to_open", v.calibTfcto).
				Msg("valve calibration unusable")
			v.changeState(StateError)
			return
		}
		log.Info().
			Uint16("ticks_open_to_closed", v.calibTfotc).
			Uint16("ticks_closed_to_open", v.calibTfcto).
			Uint8("precision_pc", eps).
			Msg("valve calibrated")
		v.needsRecalibrating.Store(false)
		v.resetPosition(true, false) // Currently fully open.
		v.changeState(StateNormal)

	default:
		v.changeState(StateError)
	}
}

// pollNormal tracks the target position, proportionally when
// calibrated and end stop to end stop otherwise.
func (v *CurrentSenseValveMotor) pollNormal() {
	cur := v.CurrentPC()
	tgt := v.TargetPC()
	if cur == tgt {
		return
	}

	if v.pollNormalProportional() {
		return
	}

	// Binary mode: target fully open or fully closed, switching at
	// the same threshold that triggers a boiler call for heat.
	binaryOpen := tgt >= DefaultValvePCSaferOpen
	binaryTarget := uint8(0)
	if binaryOpen {
		binaryTarget = 100
	}
	if binaryTarget == cur {
		return
	}

	// Refuse to close on a low battery, to avoid browning out or
	// leaving the valve shut.
	low := v.lowBattery()
	if low && tgt < cur {
		return
	}

	// Tentative positions (just shy of an end) get a slow seating
	// pulse; otherwise run fast and land tentatively.
	tentative := cur == 1 || cur == 99
	switch {
	case !tentative && v.runTowardsEndStopSpeed(binaryOpen, low):
		v.resetPosition(binaryOpen, true)
	case v.runTowardsEndStop(binaryOpen):
		v.resetPosition(binaryOpen, false)
	default:
		v.recomputePosition()
	}
}

// pollNormalProportional does the dead-reckoning positioning work.
// Returns false to fall through to binary end-stop behaviour.
func (v *CurrentSenseValveMotor) pollNormalProportional() bool {
	// A serious tracking error forces recalibration, unless now is a
	// bad time for it.
	if v.needsRecalibrating.Load() && !v.shouldDeferCalibration() {
		v.changeState(StateCalibrating)
		return true
	}

	if v.InNonProportionalMode() {
		return false
	}

	// Targets close to either end fall back to hitting the end stops,
	// which keeps the ends 'sticky' and lightly recalibrates them.
	eps := v.cp.ApproxPrecisionPC()
	lowBand := 2 * eps
	if half := v.minOpenPC >> 1; half > lowBand {
		lowBand = half
	}
	cur := v.CurrentPC()
	tgt := v.TargetPC()
	if tgt >= 100-2*eps || tgt <= lowBand {
		return false
	}

	// Close enough already; avoid hunting.
	if (tgt >= cur && tgt <= cur+eps) ||
		(cur >= tgt && cur <= tgt+eps) {
		return true
	}

	if tgt > cur {
		// Not open enough.
		hitEndStop := v.runTowardsEndStop(true)
		v.recomputePosition()
		if hitEndStop {
			// Hitting the stop well before a fairly-open position is
			// a serious tracking error; close to it, silently adjust.
			limit := v.fairlyOpenPC
			if cap8 := 100 - 8*eps; cap8 < limit {
				limit = cap8
			}
			if v.CurrentPC() < limit {
				v.reportTrackingError()
			} else {
				v.resetPosition(true, false)
			}
		}
	} else {
		// Not closed enough.
		hitEndStop := v.runTowardsEndStop(false)
		v.recomputePosition()
		if hitEndStop {
			limit := 2 * v.minOpenPC
			if e8 := 8 * eps; e8 > limit {
				limit = e8
			}
			if v.CurrentPC() > limit {
				v.reportTrackingError()
			} else {
				v.resetPosition(false, false)
			}
		}
	}
	return true
}

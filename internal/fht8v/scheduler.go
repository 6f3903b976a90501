package fht8v

import (
	"math/rand"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Transmitter carries an encoded FS20 bit stream to the valve head.
// The stream excludes the 0xff terminator. When double is set the
// implementation should send twice with a short gap for resilience.
type Transmitter interface {
	SendFS20(stream []byte, double bool) error
}

// TypicalMinPercentOpen is the estimated minimum percent-open for
// significant flow through a typical FHT8V valve body.
const TypicalMinPercentOpen = 10

// MaxHalfSecondCount is the highest half-second slot index within one
// minor cycle, so each cycle offers slots 0..MaxHalfSecondCount.
const MaxHalfSecondCount = 3

// Double TX outside sync is normally suppressed to conserve
// bandwidth on the shared 868MHz band.
const allowNonSyncDoubleTX = false

// IsValidHouseCode reports whether one house code byte is usable for
// an FHT8V; each of the two parts must be a two-digit decimal value.
func IsValidHouseCode(hc uint8) bool { return hc <= 99 }

// txGapHalfSeconds is the interval between valve-setting TXes for the
// given house code 2, adjusted down by the remaining unconsumed slots
// of the current minor cycle.
func txGapHalfSeconds(hc2, halfSecondCount uint8) uint8 {
	return (hc2 & 7) + 230 - (MaxHalfSecondCount - halfSecondCount)
}

// Valve manages the one-way FS20 link to a single FHT8V valve head:
// house code assignment, the initial sync countdown, and the
// subsequent periodic valve-setting transmissions, all driven by
// half-second polling from the controller's minor cycle.
type Valve struct {
	radio Transmitter

	// Seams for deterministic tests. Rand8 feeds the startup
	// postponement decision; SleepToSlot aligns a TX with its
	// half-second slot when the caller polled early.
	Rand8       func() uint8
	SleepToSlot func(halfSeconds uint8)

	// Mutated only from the half-second slot goroutine.
	hc1, hc2            uint8
	value               uint8 // target percent open
	syncState           uint8 // 0 idle, else countdown in [241,1]
	halfSecondsToNextTX uint8
	halfSecondCount     uint8

	// Read by other goroutines through Synced and
	// IsControlledValveReallyOpen while the slot goroutine mutates.
	synced      atomic.Bool
	isValveOpen atomic.Bool

	buf [MinBitStreamBufSize]byte
}

// NewValve returns a valve driver with no house code assigned; it
// stays unavailable until SetHC1/SetHC2 give it a valid code.
func NewValve(radio Transmitter) *Valve {
	v := &Valve{
		radio:       radio,
		Rand8:       func() uint8 { return uint8(rand.Intn(256)) },
		SleepToSlot: func(uint8) {},
		hc1:         0xff,
		hc2:         0xff,
	}
	v.buf[0] = 0xff
	return v
}

// HC1 returns house code part 1, 0xff until set.
func (v *Valve) HC1() uint8 { return v.hc1 }

// HC2 returns house code part 2, 0xff until set.
func (v *Valve) HC2() uint8 { return v.hc2 }

// SetHC1 sets house code part 1, forcing a resync on change.
func (v *Valve) SetHC1(hc uint8) {
	if hc != v.hc1 {
		v.hc1 = hc
		v.ResyncWithValve()
	}
}

// SetHC2 sets house code part 2, forcing a resync on change.
func (v *Valve) SetHC2(hc uint8) {
	if hc != v.hc2 {
		v.hc2 = hc
		v.ResyncWithValve()
	}
}

// ClearHC drops both house code parts, disabling the valve until a
// new code is assigned.
func (v *Valve) ClearHC() {
	v.hc1, v.hc2 = 0xff, 0xff
	v.ResyncWithValve()
}

// IsValidHC reports whether both house code parts are usable.
func (v *Valve) IsValidHC() bool {
	return IsValidHouseCode(v.hc1) && IsValidHouseCode(v.hc2)
}

// IsUnavailable is true when no TX can reach a valve at all, because
// there is no radio or no valid house code. It stays false while
// merely (re)syncing.
func (v *Valve) IsUnavailable() bool {
	return v.radio == nil || !v.IsValidHC()
}

// ResyncWithValve resets comms state so the next poll restarts the
// sync procedure from scratch.
func (v *Valve) ResyncWithValve() {
	v.synced.Store(false)
	v.syncState = 0
	v.halfSecondsToNextTX = 0
	v.isValveOpen.Store(false)
}

// Synced reports whether the sync procedure has completed.
func (v *Valve) Synced() bool { return v.synced.Load() }

// Target returns the current target percent open.
func (v *Valve) Target() uint8 { return v.value }

// SetTarget accepts a new target percent open and rebuilds the TX
// buffer with the matching valve-setting command. Returns false for
// values over 100.
func (v *Valve) SetTarget(pc uint8) bool {
	if pc > 100 {
		return false
	}
	v.value = pc
	v.createValveSetCmdFrame(pc)
	return true
}

// IsControlledValveReallyOpen reports whether the remote valve should
// currently be open, ie the link is synced and the last setting TX
// carried at least the minimum-flow position. Drives call-for-heat.
func (v *Valve) IsControlledValveReallyOpen() bool {
	return v.synced.Load() && v.isValveOpen.Load()
}

// createValveSetCmdFrame fills the TX buffer with a command moving
// the valve to the given percent open. With no valid house code the
// buffer is left empty (0xff-led).
func (v *Valve) createValveSetCmdFrame(valvePC uint8) {
	if !v.IsValidHC() {
		v.buf[0] = 0xff
		return
	}
	m := Msg{
		HC1:       v.hc1,
		HC2:       v.hc2,
		Command:   CmdValveSet,
		Extension: PercentTo255(valvePC),
	}
	EncodeBitStream(v.buf[:], &m)
}

// txQueueAndSend transmits the buffered command, skipping silently if
// the buffer is empty or no radio is attached.
func (v *Valve) txQueueAndSend(doubleTX bool) {
	if v.buf[0] == 0xff || v.radio == nil {
		return
	}
	n := FrameLenFFTerminated(v.buf[:])
	if err := v.radio.SendFS20(v.buf[:n], doubleTX); err != nil {
		log.Error().Err(err).Msg("fht8v tx failed")
	}
}

// valveSettingTX sends the buffered valve-setting command and records
// the state the valve should now be moving to.
func (v *Valve) valveSettingTX(allowDoubleTX bool) {
	v.txQueueAndSend(allowNonSyncDoubleTX && allowDoubleTX)
	v.isValveOpen.Store(v.value >= TypicalMinPercentOpen)
}

// doSync runs one half-second step of the sync procedure. Iff it
// returns true the caller must keep polling every half second this
// minor cycle.
func (v *Valve) doSync(allowDoubleTX bool) bool {
	if v.IsUnavailable() {
		v.synced.Store(false)
		return false
	}

	if v.syncState == 0 {
		// Randomly postpone starting, with roughly a 15/16 chance per
		// 2s cycle, so a fleet restarting after a power cut does not
		// clash; typically starts well within 32s.
		if 0 != 0x1e&v.Rand8() {
			v.synced.Store(false)
			return false
		}
		v.syncState = 241
		log.Info().Uint8("hc1", v.hc1).Uint8("hc2", v.hc2).Msg("fht8v sync starting")
	}

	if v.syncState >= 2 {
		// Sync (command 12) message on odd-numbered states, once per second.
		if v.syncState&1 == 1 {
			m := Msg{HC1: v.hc1, HC2: v.hc2, Command: CmdSync, Extension: v.syncState}
			EncodeBitStream(v.buf[:], &m)
			if v.halfSecondCount > 0 {
				v.SleepToSlot(v.halfSecondCount)
			}
			v.txQueueAndSend(allowDoubleTX)
			// The buffer no longer holds a valid valve-setting command.
		}
		v.syncState--
		if v.syncState == 1 {
			// Schedule the final sync command at 0.5*(hc2&7)+4 seconds.
			v.halfSecondsToNextTX = (v.hc2 & 7) + 8
			v.halfSecondsToNextTX -= MaxHalfSecondCount - v.halfSecondCount
			return false
		}
	} else {
		// syncState == 1: waiting to send the final sync command.
		v.halfSecondsToNextTX--
		if v.halfSecondsToNextTX == 0 {
			// Anything other than a zero extension here locks up
			// FHT8V-3 units, so the valve closes on receipt.
			m := Msg{HC1: v.hc1, HC2: v.hc2, Command: CmdSyncFinal}
			v.isValveOpen.Store(false)
			EncodeBitStream(v.buf[:], &m)
			if v.halfSecondCount > 0 {
				v.SleepToSlot(v.halfSecondCount)
			}
			v.txQueueAndSend(allowDoubleTX)
			v.synced.Store(true)
			log.Info().Uint8("hc1", v.hc1).Uint8("hc2", v.hc2).Msg("fht8v sync complete")

			// Refill the buffer with the real valve-setting command and
			// set up the delay to the first regular TX.
			v.createValveSetCmdFrame(v.value)
			v.halfSecondsToNextTX = txGapHalfSeconds(v.hc2, v.halfSecondCount)
			return false
		}
	}

	// Insist on being called every half second while syncing.
	return true
}

// PollSyncAndTXFirst must be called at the start of each 2s minor
// cycle. It drives the initial sync and then conveys the target
// percent-open to the valve on its periodic TX slots.
//
// Iff it returns true, PollSyncAndTXNext must then be called at or
// before each subsequent half second of this minor cycle.
func (v *Valve) PollSyncAndTXFirst(allowDoubleTX bool) bool {
	v.halfSecondCount = 0

	// Getting in sync takes priority; always double-TX while syncing.
	if !v.synced.Load() {
		return v.doSync(true)
	}

	// No TX needed this minor cycle.
	if v.halfSecondsToNextTX > MaxHalfSecondCount+1 {
		v.halfSecondsToNextTX -= MaxHalfSecondCount + 1
		return false
	}

	v.halfSecondsToNextTX--
	if v.halfSecondsToNextTX == 0 {
		v.valveSettingTX(allowDoubleTX)
		v.halfSecondsToNextTX = txGapHalfSeconds(v.hc2, 0)
		return false
	}
	return true
}

// PollSyncAndTXNext handles the remaining half-second slots of a
// minor cycle after PollSyncAndTXFirst returned true. Iff it returns
// false, no further slots are needed this cycle.
func (v *Valve) PollSyncAndTXNext(allowDoubleTX bool) bool {
	v.halfSecondCount++

	if !v.synced.Load() {
		return v.doSync(true)
	}

	v.halfSecondsToNextTX--
	if v.halfSecondsToNextTX == 0 {
		v.SleepToSlot(v.halfSecondCount)
		v.valveSettingTX(allowDoubleTX)
		v.halfSecondsToNextTX = txGapHalfSeconds(v.hc2, v.halfSecondCount)
		return false
	}
	return true
}

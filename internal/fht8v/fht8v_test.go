package fht8v_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/trv-controller/internal/fht8v"
)

func TestPercentScaleKeyPoints(t *testing.T) {
	cases := []struct {
		pc    uint8
		scale uint8
	}{
		{0, 0},     // fully closed must be exact
		{2, 5},
		{50, 128},  // boiler drop-out threshold
		{67, 171},  // boiler trigger threshold
		{100, 255}, // fully open must be exact
	}
	for _, tc := range cases {
		assert.Equal(t, tc.scale, fht8v.PercentTo255(tc.pc), "pc=%d", tc.pc)
	}
	assert.Equal(t, uint8(0), fht8v.Scale255ToPercent(0))
	assert.Equal(t, uint8(50), fht8v.Scale255ToPercent(128))
	assert.Equal(t, uint8(100), fht8v.Scale255ToPercent(255))
}

func TestPercentScaleMonotonicAndInvertible(t *testing.T) {
	prev := uint8(0)
	for pc := uint8(0); pc <= 100; pc++ {
		s := fht8v.PercentTo255(pc)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
		// Mapping down again must recover the exact percentage.
		assert.Equal(t, pc, fht8v.Scale255ToPercent(s), "pc=%d scale=%d", pc, s)
	}
}

func TestBitStreamRoundTrip(t *testing.T) {
	cases := []fht8v.Msg{
		{HC1: 0, HC2: 0, Command: fht8v.CmdSyncFinal, Extension: 0},
		{HC1: 13, HC2: 73, Command: fht8v.CmdValveSet, Extension: 128},
		{HC1: 99, HC2: 99, Command: fht8v.CmdSync, Extension: 241},
		{HC1: 0xff, HC2: 0xff, Command: 0xff, Extension: 0xff}, // longest encoding
	}
	for _, m := range cases {
		var buf [fht8v.MinBitStreamBufSize]byte
		n := fht8v.EncodeBitStream(buf[:], &m)
		require.NotZero(t, n)
		require.LessOrEqual(t, n, fht8v.MinBitStreamBufSize)
		assert.Equal(t, uint8(0xff), buf[n-1])

		got, next := fht8v.DecodeBitStream(buf[:n-1])
		require.NotNil(t, got, "msg %+v", m)
		assert.Equal(t, m, *got)
		assert.Positive(t, next)
	}
}

func TestBitStreamEncodeRejectsShortBuffer(t *testing.T) {
	var buf [fht8v.MinBitStreamBufSize - 1]byte
	m := fht8v.Msg{HC1: 1, HC2: 2, Command: fht8v.CmdValveSet}
	assert.Zero(t, fht8v.EncodeBitStream(buf[:], &m))
}

func TestBitStreamCorruptionRejected(t *testing.T) {
	m := fht8v.Msg{HC1: 13, HC2: 73, Command: fht8v.CmdValveSet, Extension: 153}
	var buf [fht8v.MinBitStreamBufSize]byte
	n := fht8v.EncodeBitStream(buf[:], &m)
	require.NotZero(t, n)

	// A single flipped bit anywhere in the encoded body either breaks
	// the 1100/111000 bit patterning or trips parity or checksum.
	for i := 8; i < n-4; i++ {
		for bit := uint8(0); bit < 8; bit++ {
			mutated := make([]byte, n-1)
			copy(mutated, buf[:n-1])
			mutated[i] ^= 1 << bit
			got, _ := fht8v.DecodeBitStream(mutated)
			assert.Nil(t, got, "byte %d bit %d survived corruption", i, bit)
		}
	}
}

func TestBitStreamTruncationRejected(t *testing.T) {
	m := fht8v.Msg{HC1: 1, HC2: 2, Command: fht8v.CmdValveSet, Extension: 10}
	var buf [fht8v.MinBitStreamBufSize]byte
	n := fht8v.EncodeBitStream(buf[:], &m)
	require.NotZero(t, n)
	got, _ := fht8v.DecodeBitStream(buf[:n/2])
	assert.Nil(t, got)
}

// mockRadio decodes every transmitted stream back into a command and
// stamps it with the caller-maintained half-second clock.
type mockRadio struct {
	clock *int
	sent  []fht8v.Msg
	times []int
}

func (m *mockRadio) SendFS20(stream []byte, double bool) error {
	msg, _ := fht8v.DecodeBitStream(stream)
	if msg == nil {
		panic("transmitted stream failed to decode")
	}
	m.sent = append(m.sent, *msg)
	m.times = append(m.times, *m.clock)
	return nil
}

// runCycles drives the valve through whole 2s minor cycles of four
// half-second slots, advancing the shared clock slot by slot.
func runCycles(v *fht8v.Valve, clock *int, startCycle, cycles int) {
	for c := startCycle; c < startCycle+cycles; c++ {
		*clock = c * (fht8v.MaxHalfSecondCount + 1)
		more := v.PollSyncAndTXFirst(false)
		for i := 1; i <= fht8v.MaxHalfSecondCount && more; i++ {
			*clock = c*(fht8v.MaxHalfSecondCount+1) + i
			more = v.PollSyncAndTXNext(false)
		}
	}
}

func newSyncedSetup(t *testing.T) (*fht8v.Valve, *mockRadio, *int) {
	t.Helper()
	clock := new(int)
	radio := &mockRadio{clock: clock}
	v := fht8v.NewValve(radio)
	v.Rand8 = func() uint8 { return 0 } // never postpone sync start
	v.SetHC1(13)
	v.SetHC2(34)
	require.True(t, v.SetTarget(60))
	return v, radio, clock
}

// Synced and IsControlledValveReallyOpen are read from the telemetry
// goroutine while the slot goroutine polls; exercised here so the race
// detector guards that boundary.
func TestLinkStateReadsSafeDuringSlotPolling(t *testing.T) {
	v, _, clock := newSyncedSetup(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			_ = v.Synced()
			_ = v.IsControlledValveReallyOpen()
		}
	}()

	runCycles(v, clock, 0, 80)
	close(done)
	wg.Wait()
	assert.True(t, v.Synced())
}

func TestSyncSequence(t *testing.T) {
	v, radio, clock := newSyncedSetup(t)

	// 70 minor cycles comfortably covers the 120-message countdown
	// plus the short wait before the final sync command.
	runCycles(v, clock, 0, 70)
	require.True(t, v.Synced())

	// The countdown sends command 0x2C once per second with odd
	// descending extensions 241, 239, ... 3.
	require.GreaterOrEqual(t, len(radio.sent), 121)
	ext := uint8(241)
	for i := 0; i < 120; i++ {
		assert.Equal(t, uint8(fht8v.CmdSync), radio.sent[i].Command, "msg %d", i)
		assert.Equal(t, ext, radio.sent[i].Extension, "msg %d", i)
		ext -= 2
	}

	// Then exactly one sync-final with a zero extension, after which
	// the valve is assumed closed until the first setting TX.
	final := radio.sent[120]
	assert.Equal(t, uint8(fht8v.CmdSyncFinal), final.Command)
	assert.Zero(t, final.Extension)
	assert.False(t, v.IsControlledValveReallyOpen())
}

func TestValveSettingTXCadence(t *testing.T) {
	v, radio, clock := newSyncedSetup(t)

	// Sync, then enough further cycles for several valve-setting TXes.
	runCycles(v, clock, 0, 300)
	require.True(t, v.Synced())

	var setTimes []int
	for i, m := range radio.sent {
		if m.Command == fht8v.CmdValveSet {
			setTimes = append(setTimes, radio.times[i])
			assert.Equal(t, fht8v.PercentTo255(60), m.Extension)
		}
	}
	require.GreaterOrEqual(t, len(setTimes), 2)

	// TX interval is fixed by the low bits of house code 2.
	wantGap := int(v.HC2()&7) + 230
	for i := 1; i < len(setTimes); i++ {
		assert.Equal(t, wantGap, setTimes[i]-setTimes[i-1])
	}

	// A setting at or above minimum flow marks the remote valve open.
	assert.True(t, v.IsControlledValveReallyOpen())
}

func TestSyncPostponedWhileRandomSaysSo(t *testing.T) {
	clock := new(int)
	radio := &mockRadio{clock: clock}
	v := fht8v.NewValve(radio)
	v.Rand8 = func() uint8 { return 0xff } // always postpone
	v.SetHC1(1)
	v.SetHC2(2)

	runCycles(v, clock, 0, 50)
	assert.False(t, v.Synced())
	assert.Empty(t, radio.sent)
}

func TestUnavailableValveNeverTransmits(t *testing.T) {
	// No radio at all.
	v := fht8v.NewValve(nil)
	v.SetHC1(1)
	v.SetHC2(2)
	assert.True(t, v.IsUnavailable())
	assert.False(t, v.PollSyncAndTXFirst(false))
	assert.False(t, v.Synced())

	// Radio present but no valid house code.
	clock := new(int)
	radio := &mockRadio{clock: clock}
	v2 := fht8v.NewValve(radio)
	v2.Rand8 = func() uint8 { return 0 }
	assert.True(t, v2.IsUnavailable())
	runCycles(v2, clock, 0, 10)
	assert.Empty(t, radio.sent)
}

func TestHouseCodeChangeForcesResync(t *testing.T) {
	v, _, clock := newSyncedSetup(t)
	runCycles(v, clock, 0, 70)
	require.True(t, v.Synced())

	v.SetHC2(35)
	assert.False(t, v.Synced())
	assert.False(t, v.IsControlledValveReallyOpen())

	v.ClearHC()
	assert.False(t, v.IsValidHC())
	assert.True(t, v.IsUnavailable())
}

func TestSetTargetRejectsOutOfRange(t *testing.T) {
	v := fht8v.NewValve(nil)
	assert.False(t, v.SetTarget(101))
	assert.True(t, v.SetTarget(100))
	assert.Equal(t, uint8(100), v.Target())
}

func TestHouseCodeValidity(t *testing.T) {
	assert.True(t, fht8v.IsValidHouseCode(0))
	assert.True(t, fht8v.IsValidHouseCode(99))
	assert.False(t, fht8v.IsValidHouseCode(100))
	assert.False(t, fht8v.IsValidHouseCode(0xff))
}

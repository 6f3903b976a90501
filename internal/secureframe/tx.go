package secureframe

import (
	"crypto/rand"
	"sync"

	"github.com/thatsimonsguy/trv-controller/internal/frame"
)

const (
	slotTXRestartPrimary   = "tx_restart_primary"
	slotTXRestartSecondary = "tx_restart_secondary"

	restartCounterBytes = 3
	messageCounterBytes = 6
)

// TX manages the transmit side of the secure frame protocol for one
// node identity and key: the 6-byte monotonic message counter (3-byte
// durable restart counter plus 3-byte entropy-seeded ephemeral), IV
// construction, and frame encoding. All mutation of the counter goes
// through one mutex; counter values are committed to the store before
// any frame carrying them can be built.
type TX struct {
	store Store
	enc   Encryptor
	id    [8]byte
	key   [16]byte

	mu          sync.Mutex
	initialised bool
	restart     [restartCounterBytes]byte
	ephemeral   [restartCounterBytes]byte
}

func NewTX(store Store, enc Encryptor, id [8]byte, key [16]byte) *TX {
	return &TX{store: store, enc: enc, id: id, key: key}
}

// ID returns the full local node ID used in TX frame headers and IVs.
func (t *TX) ID() [8]byte { return t.id }

// ensureInit runs the once-per-boot counter work: load the restart
// counter, reset-with-entropy if the store is fresh, otherwise spend
// one increment to account for the reboot, and seed the ephemeral
// counter's low bytes with entropy. Caller holds t.mu.
func (t *TX) ensureInit() error {
	if t.initialised {
		return nil
	}
	ctr, err := readCounter(t.store, slotTXRestartPrimary, slotTXRestartSecondary, restartCounterBytes)
	if err != nil {
		return err
	}
	copy(t.restart[:], ctr)
	if t.restart == [restartCounterBytes]byte{} {
		// Fresh or erased store. A plain zero start would repeat the
		// counter sequence of any earlier life under this key, so
		// inject entropy into the low bits instead.
		if err := t.resetRestartLocked(false); err != nil {
			return err
		}
	} else {
		if err := t.incrementRestartLocked(); err != nil {
			return err
		}
	}
	// Entropy in the low ephemeral bytes only, preserving counter life.
	if _, err := rand.Read(t.ephemeral[1:]); err != nil {
		return err
	}
	t.ephemeral[0] = 0
	t.initialised = true
	return nil
}

// incrementRestartLocked bumps the durable restart counter, refusing an
// increment that would overflow the top byte: that is the end of this
// key's life. Caller holds t.mu.
func (t *TX) incrementRestartLocked() error {
	c := t.restart
	for i := restartCounterBytes - 1; ; i-- {
		c[i]++
		if c[i] != 0 {
			break
		}
		if i == 0 {
			return ErrCounterExhausted
		}
	}
	if err := writeCounterBothCopies(t.store, slotTXRestartPrimary, slotTXRestartSecondary, c[:]); err != nil {
		return err
	}
	t.restart = c
	return nil
}

// resetRestartLocked rewrites the restart counter, either to all zeros
// or (allZeros false) to entropy confined to the low bits, guaranteed
// non-zero. Only sensible when the key or ID is also being replaced:
// counter reuse under the old key destroys the cipher's security.
// Caller holds t.mu.
func (t *TX) resetRestartLocked(allZeros bool) error {
	var c [restartCounterBytes]byte
	if !allZeros {
		for c == ([restartCounterBytes]byte{}) {
			if _, err := rand.Read(c[2:]); err != nil {
				return err
			}
		}
	}
	if err := writeCounterBothCopies(t.store, slotTXRestartPrimary, slotTXRestartSecondary, c[:]); err != nil {
		return err
	}
	t.restart = c
	return nil
}

// ResetRestartCounterCond provisions a fresh restart counter when the
// key changes: resets to a randomised low value if significant counter
// life has been used, else just increments.
func (t *TX) ResetRestartCounterCond() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureInit(); err != nil {
		return err
	}
	if t.restart[0] < 0x20 {
		return t.incrementRestartLocked()
	}
	return t.resetRestartLocked(false)
}

// RestartCounter returns the current durable restart counter value.
func (t *TX) RestartCounter() ([restartCounterBytes]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureInit(); err != nil {
		return [restartCounterBytes]byte{}, err
	}
	return t.restart, nil
}

// NextCounter returns the next 6-byte message counter, strictly greater
// than every value returned before it for the life of the key, across
// reboots and power loss. The durable part is committed before return,
// so a crash after this call can never lead to reuse.
func (t *TX) NextCounter() ([messageCounterBytes]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out [messageCounterBytes]byte
	if err := t.ensureInit(); err != nil {
		return out, err
	}
	for i := restartCounterBytes - 1; ; i-- {
		t.ephemeral[i]++
		if t.ephemeral[i] != 0 {
			break
		}
		if i == 0 {
			// Ephemeral part wrapped; carry into the durable part.
			if err := t.incrementRestartLocked(); err != nil {
				return out, err
			}
			break
		}
	}
	copy(out[:restartCounterBytes], t.restart[:])
	copy(out[restartCounterBytes:], t.ephemeral[:])
	return out, nil
}

// NextIV fills in a 12-byte IV for secure TX: the first 6 bytes of the
// local node ID followed by a fresh message counter.
func (t *TX) NextIV() ([12]byte, error) {
	var iv [12]byte
	ctr, err := t.NextCounter()
	if err != nil {
		return iv, err
	}
	copy(iv[:6], t.id[:6])
	copy(iv[6:], ctr[:])
	return iv, nil
}

// EncodeSecureFrame builds a complete secure frame carrying body (at
// most 31 bytes, possibly empty) under a fresh IV, writing it to buf
// and returning the total frame length. The ID length transmitted in
// the header is idLen leading bytes of the node ID (usually 4).
func (t *TX) EncodeSecureFrame(buf []byte, fType frame.Type, idLen uint8, body []byte) (uint8, error) {
	if idLen > 8 {
		return 0, ErrFrameInvalid
	}
	iv, err := t.NextIV()
	if err != nil {
		return 0, err
	}
	n := EncodeRaw(buf, fType, t.id[:idLen], body, &iv, t.enc, &t.key)
	if n == 0 {
		return 0, ErrFrameInvalid
	}
	return n, nil
}

// EncodeSecureBeacon builds an empty-body secure alive beacon.
func (t *TX) EncodeSecureBeacon(buf []byte, idLen uint8) (uint8, error) {
	return t.EncodeSecureFrame(buf, frame.TypeAlive, idLen, nil)
}

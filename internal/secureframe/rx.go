package secureframe

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/thatsimonsguy/trv-controller/internal/frame"
)

func rxSlot(id [8]byte, copyName string) string {
	return "rx_" + hex.EncodeToString(id[:]) + "_" + copyName
}

// RX manages the receive side: per-node last-authenticated message
// counters (stored with the same two-copy checksum discipline as the
// TX restart counter) and the full decode pipeline from raw bytes to
// authenticated plaintext.
type RX struct {
	store Store
	assoc AssociationStore
	dec   Decryptor

	// FirstIDMatchOnly stops at the first association whose ID matches
	// the frame's prefix; when false every candidate is tried until one
	// authenticates.
	FirstIDMatchOnly bool

	mu sync.Mutex
}

func NewRX(store Store, assoc AssociationStore, dec Decryptor) *RX {
	return &RX{store: store, assoc: assoc, dec: dec, FirstIDMatchOnly: true}
}

// LastCounter returns the last authenticated message counter for the
// node, zero for a node never heard from.
func (r *RX) LastCounter(id [8]byte) ([messageCounterBytes]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCounterLocked(id)
}

func (r *RX) lastCounterLocked(id [8]byte) ([messageCounterBytes]byte, error) {
	var out [messageCounterBytes]byte
	ctr, err := readCounter(r.store, rxSlot(id, "primary"), rxSlot(id, "secondary"), messageCounterBytes)
	if err != nil {
		return out, err
	}
	copy(out[:], ctr)
	return out, nil
}

// ValidateCounter reports whether ctr is strictly greater than the last
// authenticated counter for the node; anything else is a replay.
func (r *RX) ValidateCounter(id [8]byte, ctr [messageCounterBytes]byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validateCounterLocked(id, ctr)
}

func (r *RX) validateCounterLocked(id [8]byte, ctr [messageCounterBytes]byte) (bool, error) {
	last, err := r.lastCounterLocked(id)
	if err != nil {
		return false, err
	}
	return bytes.Compare(ctr[:], last[:]) > 0, nil
}

// UpdateCounterAfterAuth commits a newly authenticated counter for the
// node. Monotonicity is re-validated here as well as before decryption,
// so a call-ordering bug upstream cannot move a counter backwards.
func (r *RX) UpdateCounterAfterAuth(id [8]byte, ctr [messageCounterBytes]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateCounterLocked(id, ctr)
}

func (r *RX) updateCounterLocked(id [8]byte, ctr [messageCounterBytes]byte) error {
	ok, err := r.validateCounterLocked(id, ctr)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCounterReplay
	}
	return writeCounterBothCopies(r.store, rxSlot(id, "primary"), rxSlot(id, "secondary"), ctr[:])
}

// DecodeResult carries the outcome of a successful secure decode.
type DecodeResult struct {
	// Consumed is the total frame length processed, fl+1.
	Consumed uint8
	// SenderID is the full authenticated sender ID.
	SenderID [8]byte
	// Body is the decrypted, unpadded body; nil when the frame had none.
	Body []byte
}

// DecodeSecureFrame is the preferred receive entry point: from a
// structurally validated header and the raw frame bytes it looks up
// candidate associations by ID prefix, enforces counter monotonicity,
// authenticates and decrypts, and commits the counter, in that order.
// The AEAD is never invoked for a frame failing any structural check or
// carrying a stale counter.
func (r *RX) DecodeSecureFrame(h *frame.Header, buf []byte) (*DecodeResult, error) {
	if h == nil || h.IsInvalid() || !h.IsSecure() {
		return nil, ErrFrameInvalid
	}
	// Cheap structural gates before any store or crypto work.
	if h.TrailerLen() != frame.SecureTrailerSize {
		return nil, ErrFrameInvalid
	}
	if len(buf) <= int(h.FrameLen) || buf[h.FrameLen] != frame.SecureTrailerMarker {
		return nil, ErrFrameInvalid
	}
	var ctr [messageCounterBytes]byte
	copy(ctr[:], buf[h.TrailerOffset():])

	prefix := h.ID[:h.IDLen()]
	candidates, err := r.assoc.CandidatesByPrefix(prefix)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNotAssociated
	}
	if r.FirstIDMatchOnly {
		candidates = candidates[:1]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cand := range candidates {
		ok, err := r.validateCounterLocked(cand.ID, ctr)
		if err != nil || !ok {
			continue
		}
		var plain [frame.MaxBodyPlaintext]byte
		n, bl := DecodeRawFromID(h, buf, r.dec, cand.ID[:], &cand.Key, plain[:])
		if n == 0 {
			continue
		}
		if err := r.updateCounterLocked(cand.ID, ctr); err != nil {
			return nil, err
		}
		res := &DecodeResult{Consumed: n, SenderID: cand.ID}
		if h.BodyLen != 0 {
			res.Body = append([]byte(nil), plain[:bl]...)
		}
		return res, nil
	}
	return nil, ErrFrameInvalid
}

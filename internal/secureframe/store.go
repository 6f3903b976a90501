package secureframe

import (
	"sync"

	"github.com/thatsimonsguy/trv-controller/internal/crc"
)

// Store is durable byte-slot storage for message counters. Load returns
// nil with no error for a slot never written (the erased state); Update
// must verify its write by read-back before returning. The redundancy,
// checksum and write-in-progress discipline is layered on top by this
// package, so a Store only needs small-write atomicity.
type Store interface {
	Load(slot string) ([]byte, error)
	Update(slot string, data []byte) error
}

// Association binds a remote leaf node's full 8-byte ID to the 16-byte
// key shared with it.
type Association struct {
	ID  [8]byte
	Key [16]byte
}

// AssociationStore looks up remote-node associations by the (possibly
// truncated, possibly empty) ID prefix carried in a frame header.
type AssociationStore interface {
	CandidatesByPrefix(prefix []byte) ([]Association, error)
}

// MemStore is an in-memory Store for tests and ephemeral use.
type MemStore struct {
	mu    sync.Mutex
	slots map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{slots: make(map[string][]byte)}
}

func (m *MemStore) Load(slot string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.slots[slot]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) Update(slot string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.slots[slot] = cp
	return nil
}

// Counter record layout, shared by the TX restart counter (3 counter
// bytes) and per-node RX counters (6 counter bytes):
//
//	rec[0..n-1]  counter bytes, stored inverted so the erased all-ones
//	             state reads as counter zero
//	rec[n]       top bit clear while an update is in flight, set once
//	             complete; low 7 bits the inverted 7-bit CRC of the
//	             counter value (zero-seeded, so erased is self-valid)
//
// Each counter is kept as primary and secondary copies under separate
// slots; a copy failing its checks is ignored in favour of the other.

const recordFlagComplete = 0x80

func packCounterRecord(ctr []byte) []byte {
	rec := make([]byte, len(ctr)+1)
	c := uint8(0)
	for i, b := range ctr {
		rec[i] = ^b
		c = crc.Update7(c, b)
	}
	rec[len(ctr)] = recordFlagComplete | (^c & 0x7f)
	return rec
}

// unpackCounterRecord recovers n counter bytes from rec. A nil rec is
// the erased state and decodes as counter zero. Returns false for a
// short record, an interrupted write, or a checksum mismatch.
func unpackCounterRecord(rec []byte, n int) ([]byte, bool) {
	ctr := make([]byte, n)
	if rec == nil {
		return ctr, true
	}
	if len(rec) < n+1 {
		return nil, false
	}
	c := uint8(0)
	for i := 0; i < n; i++ {
		ctr[i] = ^rec[i]
		c = crc.Update7(c, ctr[i])
	}
	tail := rec[n]
	if tail&recordFlagComplete == 0 {
		// Power failed mid-update; this copy cannot be trusted.
		return nil, false
	}
	if ^tail&0x7f != c {
		return nil, false
	}
	return ctr, true
}

// readCounter reads a counter from its primary copy, falling back to
// the secondary when the primary fails its checks.
func readCounter(s Store, primarySlot, secondarySlot string, n int) ([]byte, error) {
	for _, slot := range []string{primarySlot, secondarySlot} {
		rec, err := s.Load(slot)
		if err != nil {
			return nil, err
		}
		if ctr, ok := unpackCounterRecord(rec, n); ok {
			return ctr, nil
		}
	}
	return nil, ErrCounterCorrupt
}

// writeCounter commits a counter value to one copy using the smart
// update sequence: mark the existing record write-in-progress, write
// the new counter bytes still marked, then complete the checksum byte.
// A crash at any point leaves either the old record, or a record whose
// marker shows the write never finished.
func writeCounter(s Store, slot string, ctr []byte) error {
	old, err := s.Load(slot)
	if err != nil {
		return err
	}
	if old != nil && len(old) == len(ctr)+1 {
		marked := make([]byte, len(old))
		copy(marked, old)
		marked[len(ctr)] &^= recordFlagComplete
		if err := s.Update(slot, marked); err != nil {
			return err
		}
	}
	rec := packCounterRecord(ctr)
	inFlight := make([]byte, len(rec))
	copy(inFlight, rec)
	inFlight[len(ctr)] &^= recordFlagComplete
	if err := s.Update(slot, inFlight); err != nil {
		return err
	}
	return s.Update(slot, rec)
}

// writeCounterBothCopies commits the primary copy first: a crash
// between the two writes then reads back the new value, and a crash
// mid-primary-write is caught by its marker and falls back to the
// intact secondary.
func writeCounterBothCopies(s Store, primarySlot, secondarySlot string, ctr []byte) error {
	if err := writeCounter(s, primarySlot, ctr); err != nil {
		return err
	}
	return writeCounter(s, secondarySlot, ctr)
}

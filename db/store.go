package db

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/thatsimonsguy/trv-controller/internal/secureframe"
)

// CounterStore is a secureframe.Store backed by the counter_slots
// table, giving message counters the small-write atomicity the
// counter-record discipline is built on.
type CounterStore struct {
	db *sql.DB
}

func NewCounterStore(db *sql.DB) *CounterStore {
	return &CounterStore{db: db}
}

// Load returns the slot contents, or nil for a slot never written.
func (s *CounterStore) Load(slot string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM counter_slots WHERE slot = ?`, slot).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load counter slot %s: %w", slot, err)
	}
	return data, nil
}

// Update writes the slot and verifies the write by read-back.
func (s *CounterStore) Update(slot string, data []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO counter_slots (slot, data) VALUES (?, ?)`, slot, data)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update counter slot %s: %w", slot, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit counter slot %s: %w", slot, err)
	}

	readBack, err := s.Load(slot)
	if err != nil {
		return err
	}
	if !bytes.Equal(readBack, data) {
		return fmt.Errorf("counter slot %s read-back mismatch", slot)
	}
	return nil
}

// AssociationStore is a secureframe.AssociationStore backed by the
// associations table.
type AssociationStore struct {
	db *sql.DB
}

func NewAssociationStore(db *sql.DB) *AssociationStore {
	return &AssociationStore{db: db}
}

// CandidatesByPrefix returns every association whose ID starts with
// the given prefix; an empty prefix matches all of them.
func (s *AssociationStore) CandidatesByPrefix(prefix []byte) ([]secureframe.Association, error) {
	rows, err := s.db.Query(`SELECT id_hex, key_hex FROM associations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query associations: %w", err)
	}
	defer rows.Close()

	var out []secureframe.Association
	for rows.Next() {
		var idHex, keyHex string
		if err := rows.Scan(&idHex, &keyHex); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		id, err := hex.DecodeString(idHex)
		if err != nil || len(id) != 8 {
			return nil, fmt.Errorf("malformed association id %q", idHex)
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 16 {
			return nil, fmt.Errorf("malformed association key for id %q", idHex)
		}
		if !bytes.HasPrefix(id, prefix) {
			continue
		}
		var a secureframe.Association
		copy(a.ID[:], id)
		copy(a.Key[:], key)
		out = append(out, a)
	}
	return out, nil
}

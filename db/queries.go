package db

import (
	"database/sql"
	"fmt"

	"github.com/thatsimonsguy/trv-controller/internal/model"
)

// GetHouseCode retrieves the FHT8V pairing code, or nil when the unit
// has not been paired yet.
func GetHouseCode(db *sql.DB) (*model.HouseCode, error) {
	var hc1, hc2 sql.NullInt64
	err := db.QueryRow(`SELECT hc1, hc2 FROM settings WHERE id = 1`).Scan(&hc1, &hc2)
	if err != nil {
		return nil, fmt.Errorf("failed to get house code: %w", err)
	}
	if !hc1.Valid || !hc2.Valid {
		return nil, nil
	}
	return &model.HouseCode{HC1: uint8(hc1.Int64), HC2: uint8(hc2.Int64)}, nil
}

// GetTargetPercent retrieves the persisted target valve position.
func GetTargetPercent(db *sql.DB) (uint8, error) {
	var pc int
	err := db.QueryRow(`SELECT target_percent FROM settings WHERE id = 1`).Scan(&pc)
	if err != nil {
		return 0, fmt.Errorf("failed to get target percent: %w", err)
	}
	if pc < 0 {
		pc = 0
	}
	if pc > 100 {
		pc = 100
	}
	return uint8(pc), nil
}

// GetAssociationIDs lists the hex IDs of all associated remote nodes.
func GetAssociationIDs(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT id_hex FROM associations ORDER BY id_hex`)
	if err != nil {
		return nil, fmt.Errorf("failed to query associations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetCounterSlots returns a snapshot of all persisted counter slots,
// mostly for the debug tool.
func GetCounterSlots(db *sql.DB) (map[string][]byte, error) {
	rows, err := db.Query(`SELECT slot, data FROM counter_slots ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("failed to query counter slots: %w", err)
	}
	defer rows.Close()

	slots := make(map[string][]byte)
	for rows.Next() {
		var slot string
		var data []byte
		if err := rows.Scan(&slot, &data); err != nil {
			return nil, fmt.Errorf("failed to scan counter slot: %w", err)
		}
		slots[slot] = data
	}
	return slots, nil
}

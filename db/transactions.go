package db

import (
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/thatsimonsguy/trv-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func UpdateHouseCode(db *sql.DB, hc model.HouseCode) error {
	if hc.HC1 > 99 || hc.HC2 > 99 {
		return fmt.Errorf("house code bytes out of range: %d/%d", hc.HC1, hc.HC2)
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`UPDATE settings SET hc1 = ?, hc2 = ? WHERE id = 1`, hc.HC1, hc.HC2)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update house code: %w", err)
	}
	return tx.Commit()
}

func ClearHouseCode(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`UPDATE settings SET hc1 = NULL, hc2 = NULL WHERE id = 1`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("clear house code: %w", err)
	}
	return tx.Commit()
}

func UpdateTargetPercent(db *sql.DB, pc uint8) error {
	if pc > 100 {
		return fmt.Errorf("target percent out of range: %d", pc)
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`UPDATE settings SET target_percent = ? WHERE id = 1`, pc)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update target percent: %w", err)
	}
	return tx.Commit()
}

func PutAssociation(db *sql.DB, id [8]byte, key [16]byte) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO associations (id_hex, key_hex) VALUES (?, ?)`,
		hex.EncodeToString(id[:]), hex.EncodeToString(key[:]))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("put association: %w", err)
	}
	return tx.Commit()
}

func DeleteAssociation(db *sql.DB, id [8]byte) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`DELETE FROM associations WHERE id_hex = ?`, hex.EncodeToString(id[:]))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("delete association: %w", err)
	}
	return tx.Commit()
}

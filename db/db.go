package db

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
	"github.com/thatsimonsguy/trv-controller/internal/config"
)

var cfg *config.Config

func InitConfig(c *config.Config) {
	cfg = c
}

// Open opens the sqlite database and ensures the schema exists.
func Open(dbPath string) (*sql.DB, error) {
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := applySchema(dbConn); err != nil {
		dbConn.Close()
		return nil, err
	}
	return dbConn, nil
}

func applySchema(dbConn *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK(id=1),
			hc1 INTEGER DEFAULT NULL,
			hc2 INTEGER DEFAULT NULL,
			target_percent INTEGER NOT NULL DEFAULT 49
		)`,
		`CREATE TABLE IF NOT EXISTS counter_slots (
			slot TEXT PRIMARY KEY,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS associations (
			id_hex TEXT PRIMARY KEY,
			key_hex TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := dbConn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// SeedDatabase creates the settings row, taking the house code from
// config when one is provisioned there. Existing values are preserved.
func SeedDatabase(dbPath string) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	tx, err := dbConn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR IGNORE INTO settings (id) VALUES (1)`)
	if err != nil {
		return fmt.Errorf("failed to insert settings record: %w", err)
	}

	if cfg != nil && cfg.HouseCode1 != nil {
		_, err = tx.Exec(`UPDATE settings SET hc1 = ?, hc2 = ? WHERE id = 1 AND hc1 IS NULL`,
			*cfg.HouseCode1, *cfg.HouseCode2)
		if err != nil {
			return fmt.Errorf("failed to seed house code: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}

	log.Printf("Database seeded at %s from config", dbPath)
	return nil
}

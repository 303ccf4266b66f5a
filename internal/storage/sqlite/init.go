package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the ledger database at path and creates the materializations
// table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// sqlite allows a single writer; every year goroutine funnels through one connection
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS materializations (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL,
		table_name TEXT NOT NULL,
		year INTEGER NOT NULL,
		status TEXT NOT NULL,
		stage TEXT,
		digest TEXT,
		bytes INTEGER DEFAULT 0,
		path TEXT,
		error TEXT,
		recorded_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create materializations table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_materializations_table_year
		ON materializations (table_name, year, status)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create materializations index: %w", err)
	}

	return db, nil
}

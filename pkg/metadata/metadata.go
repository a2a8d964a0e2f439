// Package metadata is the SQLite-backed store for the control-plane records
// the ingest pipeline consumes: tenant accounts, API keys, and experiments.
// Their CRUD surfaces live elsewhere; this package only reads them, plus the
// one experiment patch the result-update flow performs.
package metadata

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB wraps the metadata database handle.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the metadata database at path.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		path, int((5 * time.Second).Milliseconds()))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS tenant_accounts (
		id                  TEXT PRIMARY KEY,
		rate_limit_per_hour INTEGER NOT NULL DEFAULT 0,
		subscription        TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS api_keys (
		key    TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		roles  TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS experiments (
		id         TEXT NOT NULL,
		tenant     TEXT NOT NULL,
		dataset    TEXT NOT NULL DEFAULT '',
		parameters TEXT NOT NULL DEFAULT '{}',
		results    TEXT NOT NULL DEFAULT '[]',
		summaries  TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (id, tenant)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init metadata schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the database handle.
func (d *DB) Close() error { return d.db.Close() }

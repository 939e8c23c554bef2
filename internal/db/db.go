package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sigreer/devhistory/internal/store"
)

// FileName is the database file name inside the data directory
const FileName = "device-history.db"

// timeLayout is used for every timestamp column so values round-trip exactly
const timeLayout = time.RFC3339Nano

// DB is the SQLite implementation of store.Gateway
type DB struct {
	conn *sql.DB
	path string
}

var _ store.Gateway = (*DB)(nil)

// New opens or creates the SQLite database at the given path
func New(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &store.PersistenceError{Op: "create database directory", Path: dir, Err: err}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &store.PersistenceError{Op: "open database", Path: path, Err: err}
	}
	// one writer; the flusher serializes writes anyway
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		conn.Close()
		return nil, &store.PersistenceError{Op: "configure database", Path: path, Err: err}
	}

	db := &DB{conn: conn, path: path}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, &store.PersistenceError{Op: "migrate database", Path: path, Err: err}
	}

	return db, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) fail(op string, err error) error {
	return &store.PersistenceError{Op: op, Path: d.path, Err: err}
}

// migrate runs the database schema migrations
func (d *DB) migrate() error {
	_, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var version int
	err = d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}

	migrations := []string{
		migrationV1,
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := d.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

// migrationV1 creates the initial schema
const migrationV1 = `
-- Known-device ledger: one row per identity ever observed
CREATE TABLE IF NOT EXISTS known_devices (
    device_id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    vid_pid TEXT NOT NULL DEFAULT '',
    class TEXT NOT NULL DEFAULT '',
    manufacturer TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    first_seen TEXT NOT NULL,
    last_seen TEXT NOT NULL,
    times_seen INTEGER NOT NULL DEFAULT 1,
    currently_connected INTEGER NOT NULL DEFAULT 0,
    nickname TEXT,
    storage_info TEXT,
    storage_stale INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_known_connected ON known_devices(currently_connected);

-- Connect/disconnect history, seq preserves append order
CREATE TABLE IF NOT EXISTS device_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT UNIQUE NOT NULL,
    timestamp TEXT NOT NULL,
    kind TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    vid_pid TEXT,
    manufacturer TEXT,
    class TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_device ON device_events(device_id);
CREATE INDEX IF NOT EXISTS idx_events_time ON device_events(timestamp);

-- Presentation preferences, opaque key/value
CREATE TABLE IF NOT EXISTS preferences (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package localstore is the server-side stand-in for browser storage: a
// quota-limited key/value store, the page-view aggregate kept in it, and
// per-session scratch values.
package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultQuotaBytes matches the usual per-origin storage limit.
const DefaultQuotaBytes = 5 * 1024 * 1024

// ErrQuotaExceeded is returned by Set when the write would grow the store
// past its quota. The previous value is left untouched.
var ErrQuotaExceeded = errors.New("localstore: quota exceeded")

// Preserved storage keys.
const (
	KeyAnalytics        = "siteAnalytics"
	KeyContentFilters   = "contentFilters"
	KeyFilterEnabled    = "filterEnabled"
	KeyFilterStats      = "filterStats"
	KeyBlockedLog       = "blockedContentLog"
	KeyConfigCache      = "systemConfigCache"
	KeyConfigCacheTime  = "systemConfigCacheTime"
	SessionLastPageView = "lastPageView"
	SessionLastViewTime = "lastViewTime"
)

// KV is a string key/value store.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLiteKV persists values in a sqlite table. The quota counts the bytes of
// every key and value.
type SQLiteKV struct {
	db    *sql.DB
	quota int64
}

// OpenSQLiteKV opens the store at path (":memory:" for an ephemeral one).
// A quota of zero or less uses DefaultQuotaBytes.
func OpenSQLiteKV(path string, quota int64) (*SQLiteKV, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating local store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createKVTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating local store: %w", err)
	}

	if quota <= 0 {
		quota = DefaultQuotaBytes
	}
	return &SQLiteKV{db: db, quota: quota}, nil
}

// Close closes the database.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, or returns ErrQuotaExceeded.
func (s *SQLiteKV) Set(key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var used int64
	err = tx.QueryRow(`SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0)
		FROM kv WHERE key != ?`, key).Scan(&used)
	if err != nil {
		return fmt.Errorf("measuring local store: %w", err)
	}
	if used+int64(len(key))+int64(len(value)) > s.quota {
		return ErrQuotaExceeded
	}

	if _, err := tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return tx.Commit()
}

// Remove deletes key. Removing a missing key is not an error.
func (s *SQLiteKV) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

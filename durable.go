package archidex

import (
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/squealx"
	"github.com/oarkflow/squealx/connection"
)

const durableSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	data             BLOB NOT NULL,
	timestamp        INTEGER NOT NULL,
	ttl_ms           INTEGER NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_timestamp ON cache_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON cache_entries(last_accessed_at);
`

// SQLiteTier is the durable cache tier backed by a local SQLite file.
type SQLiteTier struct {
	path string

	mu sync.Mutex
	db *squealx.DB
}

// NewSQLiteTier points the tier at path. Nothing is opened until Open.
func NewSQLiteTier(path string) *SQLiteTier {
	return &SQLiteTier{path: path}
}

// Open connects and bootstraps the schema.
func (t *SQLiteTier) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		return nil
	}
	db, _, err := connection.FromConfig(squealx.Config{
		Driver:   "sqlite",
		Database: t.path,
	})
	if err != nil {
		return fmt.Errorf("open sqlite tier: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(durableSchema); err != nil {
		_ = db.Close()
		return fmt.Errorf("bootstrap cache schema: %w", err)
	}
	t.db = db
	return nil
}

func (t *SQLiteTier) conn() (*squealx.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil, ErrCacheBackendUnavailable
	}
	return t.db, nil
}

// Get reads one entry and bumps its access counters.
func (t *SQLiteTier) Get(key string) (*DurableEntry, bool, error) {
	db, err := t.conn()
	if err != nil {
		return nil, false, err
	}
	var entry DurableEntry
	err = db.Get(&entry,
		`SELECT key, data, timestamp, ttl_ms, access_count, last_accessed_at
		 FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return nil, false, nil
	}
	_, _ = db.Exec(
		`UPDATE cache_entries SET access_count = access_count + 1, last_accessed_at = ? WHERE key = ?`,
		time.Now().UnixMilli(), key)
	return &entry, true, nil
}

// Set upserts one entry.
func (t *SQLiteTier) Set(entry *DurableEntry) error {
	db, err := t.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO cache_entries (key, data, timestamp, ttl_ms, access_count, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			timestamp = excluded.timestamp,
			ttl_ms = excluded.ttl_ms,
			access_count = excluded.access_count,
			last_accessed_at = excluded.last_accessed_at`,
		entry.Key, entry.Data, entry.Timestamp, entry.TTLMillis,
		entry.AccessCount, entry.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (t *SQLiteTier) Delete(key string) error {
	db, err := t.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// ClearExpired drops every entry whose TTL has elapsed at now.
func (t *SQLiteTier) ClearExpired(now time.Time) (int, error) {
	db, err := t.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.Exec(
		`DELETE FROM cache_entries WHERE timestamp + ttl_ms <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *SQLiteTier) Clear() error {
	db, err := t.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`DELETE FROM cache_entries`)
	return err
}

func (t *SQLiteTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}

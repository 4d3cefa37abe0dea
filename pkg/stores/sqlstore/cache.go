// Package sqlstore implements governor.CacheStore atop SQLite, grounded on
// always-cache's core.SQLiteCache (database/sql over glebarez/go-sqlite,
// key/expires/bytes table, WAL mode). The entry column here holds a
// JSON-encoded cacheentry.Entry rather than a raw response body, since
// freshness/Vary metadata must round-trip with the value.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
)

// CacheStore is a SQLite-backed, single-writer-mutex governor.CacheStore.
type CacheStore struct {
	db         *sql.DB
	writeMutex sync.Mutex
}

// Open creates or attaches to a SQLite cache database at path (":memory:"
// for a process-local ephemeral store) and ensures its schema exists.
func Open(path string) (*CacheStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %q: %w", path, err)
	}

	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, expires INTEGER, entry BLOB)",
		"CREATE INDEX IF NOT EXISTS cache_expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: init schema: %w", err)
		}
	}
	return &CacheStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *CacheStore) Close() error {
	return s.db.Close()
}

// expires == 0 means "never expires". Nothing evicts rows by expiry; Get
// deletes an expired row when it reads it.
func (s *CacheStore) Get(ctx context.Context, key string) (*cacheentry.Entry, bool, error) {
	var expires int64
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT expires, entry FROM cache WHERE key = ?", key).Scan(&expires, &data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: get %q: %w", key, err)
	}
	if expires != 0 && time.Now().Unix() > expires {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	var entry cacheentry.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("sqlstore: decode %q: %w", key, err)
	}
	return &entry, true, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, entry *cacheentry.Entry, ttlSeconds int64) error {
	if ttlSeconds < 0 {
		return s.Delete(ctx, key)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("sqlstore: encode %q: %w", key, err)
	}

	var expires int64
	if ttlSeconds > 0 {
		expires = time.Now().Add(time.Duration(ttlSeconds) * time.Second).Unix()
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err = s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, expires, entry) VALUES (?, ?, ?)", key, expires, data)
	if err != nil {
		return fmt.Errorf("sqlstore: set %q: %w", key, err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("sqlstore: delete %q: %w", key, err)
	}
	return nil
}

func (s *CacheStore) Clear(ctx context.Context) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache")
	if err != nil {
		return fmt.Errorf("sqlstore: clear: %w", err)
	}
	return nil
}

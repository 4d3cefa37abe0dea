// Package leveldb implements governor.CacheStore atop a local LevelDB
// database, grounded on devforth-wait0's diskCache (internal/wait0/service.go):
// a key-prefix split between the payload ("e:") and its metadata (here the
// "x:" expiry deadline, where wait0 uses "m:"), and leveldb.Batch for the
// paired write. Entries are JSON-encoded (matching
// the redis and sqlite stores) rather than devforth's gob, to keep the
// encoding uniform across every backend in this module, then
// snappy-compressed before the Put the way wait0 compresses its disk-cache
// values. LevelDB has no native per-key TTL, so ttlSeconds is folded into a
// stored expiry deadline under a parallel "x:" key instead, checked on Get.
package leveldb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
)

const (
	entryPrefix  = "e:"
	expiryPrefix = "x:"
)

// CacheStore is a LevelDB-backed governor.CacheStore. A single *leveldb.DB
// handle is safe for concurrent use; LevelDB itself serializes writes.
type CacheStore struct {
	db *leveldb.DB
}

// Open creates or attaches to a LevelDB database directory at path.
func Open(path string) (*CacheStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb: open %q: %w", path, err)
	}
	return &CacheStore{db: db}, nil
}

// Close releases the underlying database handle.
func (c *CacheStore) Close() error {
	return c.db.Close()
}

func (c *CacheStore) Get(ctx context.Context, key string) (*cacheentry.Entry, bool, error) {
	expiresAt, hasExpiry, err := c.readExpiry(key)
	if err != nil {
		return nil, false, err
	}
	if hasExpiry && time.Now().Unix() > expiresAt {
		_ = c.Delete(ctx, key)
		return nil, false, nil
	}

	compressed, err := c.db.Get([]byte(entryPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldb: get %q: %w", key, err)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, fmt.Errorf("leveldb: decompress %q: %w", key, err)
	}

	var entry cacheentry.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("leveldb: decode %q: %w", key, err)
	}
	return &entry, true, nil
}

func (c *CacheStore) readExpiry(key string) (int64, bool, error) {
	raw, err := c.db.Get([]byte(expiryPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("leveldb: get expiry %q: %w", key, err)
	}
	if len(raw) != 8 {
		return 0, false, nil
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

func (c *CacheStore) Set(ctx context.Context, key string, entry *cacheentry.Entry, ttlSeconds int64) error {
	if ttlSeconds < 0 {
		return c.Delete(ctx, key)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("leveldb: encode %q: %w", key, err)
	}
	compressed := snappy.Encode(nil, data)

	batch := new(leveldb.Batch)
	batch.Put([]byte(entryPrefix+key), compressed)

	if ttlSeconds > 0 {
		expiresAt := time.Now().Add(time.Duration(ttlSeconds) * time.Second).Unix()
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(expiresAt))
		batch.Put([]byte(expiryPrefix+key), buf[:])
	} else {
		batch.Delete([]byte(expiryPrefix + key))
	}

	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb: set %q: %w", key, err)
	}
	return nil
}

func (c *CacheStore) Delete(ctx context.Context, key string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(entryPrefix + key))
	batch.Delete([]byte(expiryPrefix + key))
	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb: delete %q: %w", key, err)
	}
	return nil
}

// Clear removes every entry this store owns, iterating the entry prefix
// range the way devforth-wait0's loadIndex walks "m:" on startup.
func (c *CacheStore) Clear(ctx context.Context) error {
	batch := new(leveldb.Batch)

	it := c.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	for it.Next() {
		key := bytes.TrimPrefix(it.Key(), []byte(entryPrefix))
		batch.Delete(it.Key())
		batch.Delete([]byte(expiryPrefix + string(key)))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("leveldb: clear scan: %w", err)
	}

	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb: clear: %w", err)
	}
	return nil
}

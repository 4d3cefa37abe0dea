// Package memory implements the in-process cache, dedupe, and rate-limit
// stores: the defaults a single-process user of pkg/governor reaches for
// first. The dedupe store implements the register/waitFor/complete/fail
// protocol pkg/dedupe defines with a mutex-guarded job map, and also offers
// singleflight's closure-based Do through golang.org/x/sync/singleflight
// (carried from bibicadotnet-mosdns-x's go.mod into this pack, the only
// example repo requiring it), which pkg/dedupe.Join uses when present.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
)

type cacheItem struct {
	entry    *cacheentry.Entry
	expireAt time.Time // zero value means "never expires"
}

// CacheStore is a mutex-protected in-memory implementation of
// governor.CacheStore.
type CacheStore struct {
	mu    sync.Mutex
	items map[string]cacheItem
}

// NewCacheStore constructs an empty in-memory cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{items: make(map[string]cacheItem)}
}

func (c *CacheStore) Get(ctx context.Context, key string) (*cacheentry.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		cacheMisses.Inc()
		return nil, false, nil
	}
	if !item.expireAt.IsZero() && time.Now().After(item.expireAt) {
		delete(c.items, key)
		cacheMisses.Inc()
		return nil, false, nil
	}
	cacheHits.Inc()
	return item.entry, true, nil
}

// Set stores entry under key. ttlSeconds > 0 expires after N seconds, == 0
// never expires, < 0 is already expired (equivalent to a no-op followed by
// delete).
func (c *CacheStore) Set(ctx context.Context, key string, entry *cacheentry.Entry, ttlSeconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttlSeconds < 0 {
		delete(c.items, key)
		return nil
	}
	item := cacheItem{entry: entry}
	if ttlSeconds > 0 {
		item.expireAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	c.items[key] = item
	return nil
}

func (c *CacheStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *CacheStore) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]cacheItem)
	return nil
}

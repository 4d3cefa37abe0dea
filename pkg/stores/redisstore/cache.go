// Package redisstore implements Redis-backed CacheStore, dedupe.Store, and
// ratelimit.Store as a JSON envelope over go-redis with TTL-by-expiry. This
// is the multi-process backend: unlike pkg/stores/memory, coordination
// here crosses process boundaries, so dedup uses SETNX-based ownership and
// polling instead of a local channel, and rate limiting uses Redis sorted
// sets as the shared sliding window.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
)

// ErrNilClient is returned by the constructors when client is nil, as a
// returned error rather than a panic, since this package is a library
// dependency rather than an application-owned singleton.
var ErrNilClient = errors.New("redisstore: redis client cannot be nil")

// CacheStore implements governor.CacheStore atop a Redis client.
type CacheStore struct {
	client *redis.Client
	prefix string
}

// NewCacheStore constructs a CacheStore. Every key is namespaced under
// prefix (e.g. "httpgov:cache:") to let one Redis instance serve several
// stores.
func NewCacheStore(client *redis.Client, prefix string) (*CacheStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &CacheStore{client: client, prefix: prefix}, nil
}

func (c *CacheStore) key(k string) string {
	return c.prefix + k
}

func (c *CacheStore) Get(ctx context.Context, key string) (*cacheentry.Entry, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.Inc()
			return nil, false, nil
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("redisstore: get %q: %w", key, err)
	}

	var entry cacheentry.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("redisstore: decode entry %q: %w", key, err)
	}
	cacheHits.Inc()
	return &entry, true, nil
}

// Set stores entry under key. ttlSeconds follows the same convention as
// pkg/stores/memory: > 0 expires in N seconds, == 0 never expires, < 0
// deletes.
func (c *CacheStore) Set(ctx context.Context, key string, entry *cacheentry.Entry, ttlSeconds int64) error {
	if ttlSeconds < 0 {
		return c.Delete(ctx, key)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redisstore: encode entry %q: %w", key, err)
	}

	ttl := ttlToRedisExpiration(ttlSeconds)
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redisstore: set %q: %w", key, err)
	}
	return nil
}

func (c *CacheStore) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return nil
}

// Clear removes every key under this store's prefix, scanning instead of
// FLUSHDB since the prefix may share a Redis instance with other stores.
func (c *CacheStore) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		cacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("redisstore: scan for clear: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		cacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("redisstore: clear: %w", err)
	}
	return nil
}

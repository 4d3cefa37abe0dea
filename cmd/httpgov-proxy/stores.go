package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/httpgov/pkg/capacity"
	"github.com/Sternrassler/httpgov/pkg/dedupe"
	"github.com/Sternrassler/httpgov/pkg/governor"
	"github.com/Sternrassler/httpgov/pkg/ratelimit"
	"github.com/Sternrassler/httpgov/pkg/stores/leveldb"
	"github.com/Sternrassler/httpgov/pkg/stores/memory"
	"github.com/Sternrassler/httpgov/pkg/stores/redisstore"
	"github.com/Sternrassler/httpgov/pkg/stores/sqlstore"
)

// backend groups the store trio a config selects. sqlite and leveldb are
// cache-only backends: dedupe and rate limiting always fall back to the
// in-process memory implementation for those two.
type backend struct {
	cache     governor.CacheStore
	dedupe    dedupe.Store
	rateLimit ratelimit.Store
	closer    func() error
}

func capacityDefaults() capacity.Config {
	return capacity.Config{
		MonitoringWindowMs:               10_000,
		RecalculationIntervalMs:          1_000,
		HighActivityThreshold:            50,
		ModerateActivityThreshold:        10,
		SustainedInactivityThresholdMs:   30_000,
		BackgroundPauseOnIncreasingTrend: true,
		MaxUserScaling:                   1.0,
		MinUserReserved:                  1,
	}
}

func buildBackend(cfg *Config) (*backend, error) {
	switch cfg.Store {
	case "memory":
		rl := memory.NewRateLimitStore(memory.RateLimitConfig{
			TotalLimit: cfg.RateLimitTotal,
			WindowMs:   cfg.RateLimitWindow.Milliseconds(),
			Capacity:   capacityDefaults(),
		})
		return &backend{
			cache:     memory.NewCacheStore(),
			dedupe:    memory.NewDedupeStore(),
			rateLimit: rl,
			closer:    func() error { return nil },
		}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cache, err := redisstore.NewCacheStore(client, cfg.RedisPrefix+"cache:")
		if err != nil {
			return nil, err
		}
		dd, err := redisstore.NewDedupeStore(client, cfg.RedisPrefix+"dedupe:", cfg.CacheTTL, 0)
		if err != nil {
			return nil, err
		}
		rl, err := redisstore.NewRateLimitStore(client, cfg.RedisPrefix+"ratelimit:", redisstore.RateLimitConfig{
			TotalLimit: cfg.RateLimitTotal,
			WindowMs:   cfg.RateLimitWindow.Milliseconds(),
			Capacity:   capacityDefaults(),
		})
		if err != nil {
			return nil, err
		}
		return &backend{cache: cache, dedupe: dd, rateLimit: rl, closer: client.Close}, nil

	case "sqlite":
		cache, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		rl := memory.NewRateLimitStore(memory.RateLimitConfig{
			TotalLimit: cfg.RateLimitTotal,
			WindowMs:   cfg.RateLimitWindow.Milliseconds(),
			Capacity:   capacityDefaults(),
		})
		return &backend{cache: cache, dedupe: memory.NewDedupeStore(), rateLimit: rl, closer: cache.Close}, nil

	case "leveldb":
		cache, err := leveldb.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		rl := memory.NewRateLimitStore(memory.RateLimitConfig{
			TotalLimit: cfg.RateLimitTotal,
			WindowMs:   cfg.RateLimitWindow.Milliseconds(),
			Capacity:   capacityDefaults(),
		})
		return &backend{cache: cache, dedupe: memory.NewDedupeStore(), rateLimit: rl, closer: cache.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

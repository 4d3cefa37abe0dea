package redisstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the Redis store backend, one counter/gauge vector
// per layer and operation.
var (
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpgov_redis_cache_hits_total",
			Help: "Total number of redis cache store hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpgov_redis_cache_misses_total",
			Help: "Total number of redis cache store misses",
		},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpgov_redis_cache_errors_total",
			Help: "Total number of redis cache store operation errors",
		},
		[]string{"operation"},
	)

	dedupeOwnersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpgov_redis_dedupe_owners_total",
			Help: "Total number of dedup jobs this process became owner of",
		},
	)

	rateLimitBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpgov_redis_ratelimit_blocks_total",
			Help: "Total number of requests denied admission by the redis rate limit store",
		},
		[]string{"priority"},
	)

	backgroundPaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "httpgov_redis_ratelimit_background_paused",
			Help: "1 when the adaptive allocator has paused background admission for a resource, 0 otherwise",
		},
		[]string{"resource"},
	)
)

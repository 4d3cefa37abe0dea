package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the in-process store, mirroring the names used by
// the Redis backend so operators get the same counters regardless of which
// backend a deployment chooses.
var (
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpgov_memory_cache_hits_total",
			Help: "Total number of in-process cache store hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpgov_memory_cache_misses_total",
			Help: "Total number of in-process cache store misses",
		},
	)

	dedupeOwnersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpgov_memory_dedupe_owners_total",
			Help: "Total number of dedup jobs this process became owner of",
		},
	)

	dedupeJoinsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpgov_memory_dedupe_joins_total",
			Help: "Total number of dedup jobs this process joined rather than owned",
		},
	)

	rateLimitBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpgov_memory_ratelimit_blocks_total",
			Help: "Total number of requests denied admission by the in-process rate limit store",
		},
		[]string{"priority"},
	)

	backgroundPaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "httpgov_memory_ratelimit_background_paused",
			Help: "1 when the adaptive allocator has paused background admission for a resource, 0 otherwise",
		},
		[]string{"resource"},
	)
)

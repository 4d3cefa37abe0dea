// Package metrics is the documentation/reference point for Prometheus
// metrics across httpgov. Metrics are defined in their owning packages
// (pkg/stores/memory, pkg/stores/redisstore) to maintain modularity and
// avoid circular dependencies; no metric is recorded inside the core
// packages (pkg/fingerprint..pkg/governor).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry httpgov's binaries expose.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Store Metrics (pkg/stores/memory, pkg/stores/redisstore):
//   - httpgov_redis_cache_hits_total (Counter): cache hits
//   - httpgov_redis_cache_misses_total (Counter): cache misses
//   - httpgov_redis_cache_errors_total{operation} (Counter): cache operation errors
//   - httpgov_memory_cache_hits_total / httpgov_memory_cache_misses_total: same, in-process store
//
// Dedup Metrics (pkg/stores/memory, pkg/stores/redisstore):
//   - httpgov_redis_dedupe_owners_total (Counter): dedup jobs this process owned
//   - httpgov_memory_dedupe_owners_total (Counter): same, in-process store
//   - httpgov_memory_dedupe_joins_total (Counter): dedup jobs this process joined rather than owned
//
// Rate Limit Metrics (pkg/stores/memory, pkg/stores/redisstore):
//   - httpgov_redis_ratelimit_blocks_total{priority} (Counter): admissions denied
//   - httpgov_memory_ratelimit_blocks_total{priority} (Counter): same, in-process store
//   - httpgov_memory_ratelimit_background_paused (Gauge): 1 when the adaptive
//     allocator has paused background admission for a resource, 0 otherwise
//
// Proxy (cmd/httpgov-proxy):
//   - registers no metrics of its own; its /metrics route serves the default
//     registry, which carries the store metrics above
//
// Example Prometheus Queries:
//
//   # Cache hit rate
//   sum(rate(httpgov_memory_cache_hits_total[5m])) /
//   (sum(rate(httpgov_memory_cache_hits_total[5m])) + sum(rate(httpgov_memory_cache_misses_total[5m])))
//
//   # Dedup join ratio (how often concurrent callers coalesce)
//   rate(httpgov_memory_dedupe_joins_total[5m]) /
//   (rate(httpgov_memory_dedupe_joins_total[5m]) + rate(httpgov_memory_dedupe_owners_total[5m]))

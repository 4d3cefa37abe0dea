// Package freshness implements the RFC 9111 freshness/revalidation math:
// age computation, freshness lifetime, classification, and store-TTL
// derivation, generalized from a server-side reverse-cache to a private
// client cache.
// All internal arithmetic stays in the millisecond integer domain and only
// converts to seconds at comparison/TTL boundaries, to avoid accumulated
// rounding.
package freshness

import (
	"net/http"
	"time"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
)

// Classification is the freshness state of a cached entry.
type Classification string

const (
	Fresh                Classification = "fresh"
	Stale                Classification = "stale"
	NoCache              Classification = "no-cache"
	MustRevalidate       Classification = "must-revalidate"
	StaleWhileRevalidate Classification = "stale-while-revalidate"
	StaleIfError         Classification = "stale-if-error"
)

// Overrides are the per-request/construction cache-override options
// recognized at this layer.
type Overrides struct {
	IgnoreNoStore bool
	IgnoreNoCache bool
	MinimumTTL    time.Duration
	MaximumTTL    time.Duration
}

// ApparentAgeSeconds is max(0, (responseTime - responseDate)/1000), where
// responseTime is taken to be storedAt.
func ApparentAgeSeconds(e *cacheentry.Entry) int64 {
	return maxInt64(0, (e.StoredAt-e.ResponseDate)/1000)
}

// CorrectedInitialAgeSeconds is max(apparentAge, ageHeader).
func CorrectedInitialAgeSeconds(e *cacheentry.Entry) int64 {
	return maxInt64(ApparentAgeSeconds(e), e.AgeHeader)
}

// ResidentTimeSeconds is (now - responseTime)/1000.
func ResidentTimeSeconds(e *cacheentry.Entry, nowMs int64) int64 {
	return (nowMs - e.StoredAt) / 1000
}

// CurrentAgeSeconds is correctedInitialAge + residentTime, summed in
// milliseconds and converted to seconds once.
func CurrentAgeSeconds(e *cacheentry.Entry, nowMs int64) int64 {
	correctedMs := maxInt64(maxInt64(0, e.StoredAt-e.ResponseDate), e.AgeHeader*1000)
	return (correctedMs + (nowMs - e.StoredAt)) / 1000
}

// LifetimeSeconds computes the freshness lifetime for a private cache.
// s-maxage is intentionally ignored since it only applies to shared caches.
func LifetimeSeconds(e *cacheentry.Entry) int64 {
	if e.CacheControl.MaxAge != nil {
		return int64(*e.CacheControl.MaxAge)
	}
	if e.Expires != nil {
		if *e.Expires == 0 {
			return 0
		}
		lifetime := (*e.Expires - e.ResponseDate) / 1000
		return maxInt64(0, lifetime)
	}
	if lm, ok := parseHTTPDateMs(e.LastModified); ok && lm < e.ResponseDate {
		return int64(0.1 * float64(e.ResponseDate-lm) / 1000.0)
	}
	return 0
}

// Classify computes the one-of-six classification for an entry at nowMs.
func Classify(e *cacheentry.Entry, nowMs int64, overrides Overrides) Classification {
	if e.CacheControl.NoCache && !overrides.IgnoreNoCache {
		return NoCache
	}

	lifetime := LifetimeSeconds(e)
	age := CurrentAgeSeconds(e, nowMs)
	staleness := age - lifetime

	if lifetime > age {
		return Fresh
	}
	if e.CacheControl.MustRevalidate {
		return MustRevalidate
	}
	if swr := e.CacheControl.StaleWhileRevalidate; swr != nil && staleness <= int64(*swr) {
		return StaleWhileRevalidate
	}
	if sie := e.CacheControl.StaleIfError; sie != nil && staleness <= int64(*sie) {
		return StaleIfError
	}
	return Stale
}

// StoreTTLSeconds computes the TTL to hand to the backing cache store on
// write: lifetime + max(swr, sie, 0), falling back to defaultCacheTTL when
// max-age is absent and the computed lifetime is zero, then clamped by
// minimumTTL/maximumTTL.
func StoreTTLSeconds(e *cacheentry.Entry, defaultCacheTTL time.Duration, overrides Overrides) int64 {
	lifetime := LifetimeSeconds(e)

	var ttl int64
	if e.CacheControl.MaxAge == nil && lifetime == 0 {
		ttl = int64(defaultCacheTTL.Seconds())
	} else {
		extra := maxInt(intOrZero(e.CacheControl.StaleWhileRevalidate), intOrZero(e.CacheControl.StaleIfError))
		extra = maxInt(extra, 0)
		ttl = lifetime + int64(extra)
	}

	if overrides.MinimumTTL > 0 && ttl < int64(overrides.MinimumTTL.Seconds()) {
		ttl = int64(overrides.MinimumTTL.Seconds())
	}
	if overrides.MaximumTTL > 0 && ttl > int64(overrides.MaximumTTL.Seconds()) {
		ttl = int64(overrides.MaximumTTL.Seconds())
	}
	return ttl
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func parseHTTPDateMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

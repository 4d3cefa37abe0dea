package freshness

import (
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
)

func entryWithMaxAge(maxAge int, ageHeader int64, nowMs, storedAtMs int64) *cacheentry.Entry {
	h := make(http.Header)
	h.Set("Cache-Control", "max-age=0") // overwritten below
	e := cacheentry.Create(nil, h, 200, storedAtMs)
	ma := maxAge
	e.CacheControl.MaxAge = &ma
	e.AgeHeader = ageHeader
	e.ResponseDate = storedAtMs
	return e
}

func TestClassify_FreshWhileAgeBelowMaxAge(t *testing.T) {
	e := entryWithMaxAge(100, 0, 0, 0)

	if got := Classify(e, 50000, Overrides{}); got != Fresh {
		t.Fatalf("at age 50s (<100) expected fresh, got %s", got)
	}
	if got := Classify(e, 150000, Overrides{}); got == Fresh {
		t.Fatalf("at age 150s (>100) expected not fresh, got %s", got)
	}
}

func TestClassify_NoCache(t *testing.T) {
	h := make(http.Header)
	h.Set("Cache-Control", "no-cache, max-age=1000")
	e := cacheentry.Create(nil, h, 200, 0)
	if got := Classify(e, 0, Overrides{}); got != NoCache {
		t.Fatalf("expected no-cache classification, got %s", got)
	}
}

func TestClassify_MustRevalidateAfterExpiry(t *testing.T) {
	h := make(http.Header)
	h.Set("Cache-Control", "max-age=1, must-revalidate")
	e := cacheentry.Create(nil, h, 200, 0)
	if got := Classify(e, 5000, Overrides{}); got != MustRevalidate {
		t.Fatalf("expected must-revalidate, got %s", got)
	}
}

func TestClassify_StaleWhileRevalidateWindow(t *testing.T) {
	h := make(http.Header)
	h.Set("Cache-Control", "max-age=1, stale-while-revalidate=120")
	e := cacheentry.Create(nil, h, 200, 0)
	if got := Classify(e, 5000, Overrides{}); got != StaleWhileRevalidate {
		t.Fatalf("expected stale-while-revalidate within window, got %s", got)
	}
	if got := Classify(e, 130000, Overrides{}); got != Stale {
		t.Fatalf("expected plain stale once past SWR window, got %s", got)
	}
}

func TestClassify_StaleIfErrorWindow(t *testing.T) {
	h := make(http.Header)
	h.Set("Cache-Control", "max-age=1, stale-if-error=300")
	e := cacheentry.Create(nil, h, 200, 0)
	if got := Classify(e, 5000, Overrides{}); got != StaleIfError {
		t.Fatalf("expected stale-if-error within window, got %s", got)
	}
}

func TestLifetimeSeconds_ExpiresFallback(t *testing.T) {
	now := time.Now()
	h := make(http.Header)
	h.Set("Date", now.Format(http.TimeFormat))
	h.Set("Expires", now.Add(2*time.Hour).Format(http.TimeFormat))
	e := cacheentry.Create(nil, h, 200, now.UnixMilli())

	lifetime := LifetimeSeconds(e)
	if lifetime < 7190 || lifetime > 7210 {
		t.Fatalf("expected ~2h lifetime from Expires, got %d", lifetime)
	}
}

func TestLifetimeSeconds_ExpiresZeroIsZero(t *testing.T) {
	h := make(http.Header)
	h.Set("Expires", "0")
	e := cacheentry.Create(nil, h, 200, 0)
	if got := LifetimeSeconds(e); got != 0 {
		t.Fatalf("expected lifetime 0 for Expires: 0, got %d", got)
	}
}

func TestStoreTTLSeconds_DefaultFallback(t *testing.T) {
	e := cacheentry.Create(nil, make(http.Header), 200, 0)
	ttl := StoreTTLSeconds(e, 42*time.Second, Overrides{})
	if ttl != 42 {
		t.Fatalf("expected fallback to defaultCacheTTL=42s, got %d", ttl)
	}
}

func TestStoreTTLSeconds_ClampedByOverrides(t *testing.T) {
	h := make(http.Header)
	h.Set("Cache-Control", "max-age=5")
	e := cacheentry.Create(nil, h, 200, 0)
	ttl := StoreTTLSeconds(e, time.Second, Overrides{MinimumTTL: 30 * time.Second})
	if ttl != 30 {
		t.Fatalf("expected TTL clamped up to minimum 30, got %d", ttl)
	}
	ttl2 := StoreTTLSeconds(e, time.Second, Overrides{MaximumTTL: 2 * time.Second})
	if ttl2 != 2 {
		t.Fatalf("expected TTL clamped down to maximum 2, got %d", ttl2)
	}
}

func TestStoreTTLSeconds_IncludesSWRandSIE(t *testing.T) {
	h := make(http.Header)
	h.Set("Cache-Control", "max-age=10, stale-while-revalidate=100, stale-if-error=50")
	e := cacheentry.Create(nil, h, 200, 0)
	ttl := StoreTTLSeconds(e, time.Second, Overrides{})
	if ttl != 110 {
		t.Fatalf("expected ttl = lifetime(10) + max(swr,sie)=100 => 110, got %d", ttl)
	}
}

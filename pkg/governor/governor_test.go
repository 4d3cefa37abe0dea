package governor

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
	"github.com/Sternrassler/httpgov/pkg/fingerprint"
)

type fakeCacheStore struct {
	mu      sync.Mutex
	entries map[string]*cacheentry.Entry
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: make(map[string]*cacheentry.Entry)}
}

func (c *fakeCacheStore) Get(ctx context.Context, key string) (*cacheentry.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *fakeCacheStore) Set(ctx context.Context, key string, entry *cacheentry.Entry, ttlSeconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttlSeconds < 0 {
		delete(c.entries, key)
		return nil
	}
	c.entries[key] = entry
	return nil
}

func (c *fakeCacheStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeCacheStore) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheentry.Entry)
	return nil
}

type scriptedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	calls     int
	responses []scriptedResponse
}

func (f *fakeTransport) Fetch(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	return &Response{StatusCode: r.status, Header: r.headers, Body: r.body}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func jsonHeaders(extra map[string]string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}

type payload struct {
	OK bool `json:"ok"`
}

func TestGet_FreshCacheHitSkipsTransport(t *testing.T) {
	cache := newFakeCacheStore()
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, headers: jsonHeaders(map[string]string{"Cache-Control": "max-age=3600"}), body: []byte(`{"ok":true}`)},
	}}
	o := &Orchestrator{Cache: cache, Transport: transport}

	v1, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{})
	if err != nil || !v1.OK {
		t.Fatalf("first call: unexpected result v=%v err=%v", v1, err)
	}

	v2, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{})
	if err != nil || !v2.OK {
		t.Fatalf("second call: unexpected result v=%v err=%v", v2, err)
	}
	if transport.callCount() != 1 {
		t.Fatalf("expected exactly one transport call for a fresh cache hit, got %d", transport.callCount())
	}
}

func TestGet_ConditionalRevalidationOn304(t *testing.T) {
	cache := newFakeCacheStore()
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, headers: jsonHeaders(map[string]string{"Cache-Control": "max-age=1", "ETag": `"v1"`}), body: []byte(`{"ok":true}`)},
		{status: 304, headers: jsonHeaders(map[string]string{"ETag": `"v1"`})},
	}}
	o := &Orchestrator{Cache: cache, Transport: transport}

	v1, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{})
	if err != nil || !v1.OK {
		t.Fatalf("first call failed: v=%v err=%v", v1, err)
	}

	time.Sleep(5 * time.Millisecond) // age past max-age=1s is simulated via direct entry mutation below
	entry, _, _ := cache.Get(context.Background(), mustFingerprint(t, "https://api.example.com/x"))
	entry.StoredAt -= 5000 // force staleness without a real 5s sleep

	v2, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{})
	if err != nil || !v2.OK {
		t.Fatalf("second call failed: v=%v err=%v", v2, err)
	}
	if transport.callCount() != 2 {
		t.Fatalf("expected a conditional re-fetch, got %d transport calls", transport.callCount())
	}
}

func TestGet_StaleWhileRevalidateReturnsStaleAndRefreshesInBackground(t *testing.T) {
	cache := newFakeCacheStore()
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, headers: jsonHeaders(map[string]string{"Cache-Control": "max-age=1, stale-while-revalidate=120", "ETag": `"a"`}), body: []byte(`{"ok":true}`)},
		{status: 304, headers: jsonHeaders(map[string]string{"ETag": `"a"`})},
	}}
	o := &Orchestrator{Cache: cache, Transport: transport}

	if _, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	fp := mustFingerprint(t, "https://api.example.com/x")
	entry, _, _ := cache.Get(context.Background(), fp)
	entry.StoredAt -= 5000 // now stale, but within the 120s SWR window

	v, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{})
	if err != nil || !v.OK {
		t.Fatalf("expected synchronous stale value, got v=%v err=%v", v, err)
	}

	if err := o.Drain(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if transport.callCount() != 2 {
		t.Fatalf("expected background revalidation to have issued a second transport call, got %d", transport.callCount())
	}
}

func TestGet_StaleIfErrorFallsBackToStaleValue(t *testing.T) {
	cache := newFakeCacheStore()
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, headers: jsonHeaders(map[string]string{"Cache-Control": "max-age=1, stale-if-error=300"}), body: []byte(`{"ok":true}`)},
		{status: 500, headers: jsonHeaders(nil), body: []byte(`server error`)},
	}}
	o := &Orchestrator{Cache: cache, Transport: transport}

	if _, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	fp := mustFingerprint(t, "https://api.example.com/x")
	entry, _, _ := cache.Get(context.Background(), fp)
	entry.StoredAt -= 5000

	v, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{})
	if err != nil || !v.OK {
		t.Fatalf("expected stale-if-error fallback to stale value, got v=%v err=%v", v, err)
	}
}

func TestGet_VaryMismatchRefetches(t *testing.T) {
	cache := newFakeCacheStore()
	transport := &fakeTransport{responses: []scriptedResponse{
		{status: 200, headers: jsonHeaders(map[string]string{"Cache-Control": "max-age=3600", "Vary": "Accept"}), body: []byte(`{"ok":true}`)},
		{status: 200, headers: jsonHeaders(map[string]string{"Cache-Control": "max-age=3600", "Vary": "Accept"}), body: []byte(`{"ok":true}`)},
	}}
	o := &Orchestrator{Cache: cache, Transport: transport}

	acceptJSON := make(http.Header)
	acceptJSON.Set("Accept", "application/json")
	if _, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{Headers: acceptJSON}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	acceptXML := make(http.Header)
	acceptXML.Set("Accept", "application/xml")
	if _, err := Get[payload](context.Background(), o, "https://api.example.com/x", Options{Headers: acceptXML}); err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if transport.callCount() != 2 {
		t.Fatalf("expected a Vary mismatch to force a re-fetch, got %d transport calls", transport.callCount())
	}
}

func mustFingerprint(t *testing.T, rawURL string) string {
	t.Helper()
	fp, err := fingerprint.Compute(rawURL)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	return fp
}

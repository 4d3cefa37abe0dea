// Package governor implements the top-level request orchestrator: the
// pipeline tying the fingerprinter, cache phase, dedup coordinator, rate
// governor, and retrying fetch together behind a single generic Get[T]
// entrypoint, generalized from a fixed ESI Redis/retry stack to pluggable
// stores.
package governor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
	"github.com/Sternrassler/httpgov/pkg/dedupe"
	"github.com/Sternrassler/httpgov/pkg/fingerprint"
	"github.com/Sternrassler/httpgov/pkg/freshness"
	"github.com/Sternrassler/httpgov/pkg/ratelimit"
	"github.com/Sternrassler/httpgov/pkg/retry"
	"github.com/Sternrassler/httpgov/pkg/vary"
)

// CacheStore is the pluggable cache backend contract.
type CacheStore interface {
	Get(ctx context.Context, key string) (*cacheentry.Entry, bool, error)
	Set(ctx context.Context, key string, entry *cacheentry.Entry, ttlSeconds int64) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Response is the transport-agnostic response shape.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs the underlying HTTP fetch. Implementations may be
// swapped; this package ships none (cmd/httpgov-proxy has one over net/http).
type Transport interface {
	Fetch(ctx context.Context, rawURL string, headers http.Header) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, rawURL string, headers http.Header) (*Response, error)

func (f TransportFunc) Fetch(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	return f(ctx, rawURL, headers)
}

// Interceptors run on every fetch attempt, including background revalidation.
type Interceptors struct {
	BeforeRequest func(ctx context.Context, rawURL string, headers http.Header)
	AfterResponse func(ctx context.Context, rawURL string, resp *Response)
}

// Options are the per-request options.
type Options struct {
	Priority         ratelimit.Priority
	Headers          http.Header
	RetryDisabled    bool
	Retry            *retry.Config
	CacheTTL         time.Duration
	CacheOverrides   freshness.Overrides
	MaxWaitTime      time.Duration
	ThrowOnRateLimit bool

	ResponseTransformer func(ctx context.Context, raw []byte, contentType string) ([]byte, error)
	ResponseHandler     func(ctx context.Context, raw []byte) ([]byte, error)
	ErrorHandler        ErrorHandler
}

// Orchestrator wires the stores, transport, and policies together. Every
// field is optional except Transport; a nil store disables the
// corresponding pipeline phase safely.
type Orchestrator struct {
	Cache           CacheStore
	Dedupe          dedupe.Store
	RateGovernor    *ratelimit.Governor
	Transport       Transport
	Interceptors    Interceptors
	DefaultCacheTTL time.Duration
	Logger          zerolog.Logger

	mu      sync.Mutex
	pending []*revalidationTask
}

// Get performs the full request-orchestrator pipeline for url, decoding the
// final value into T. Go disallows type parameters on methods, hence the
// free function taking the orchestrator explicitly.
func Get[T any](ctx context.Context, o *Orchestrator, rawURL string, opts Options) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	fp, ferr := fingerprint.Compute(rawURL)
	if ferr != nil {
		return zero, &Error{Kind: KindSerialization, Message: "fingerprint: " + ferr.Error(), Cause: ferr}
	}
	resource := resourceName(rawURL)
	origin := originOf(rawURL)

	priority := opts.Priority
	if priority == "" {
		priority = ratelimit.PriorityBackground
	}
	reqHeaders := opts.Headers
	if reqHeaders == nil {
		reqHeaders = make(http.Header)
	}

	if o.RateGovernor != nil {
		if _, err := o.RateGovernor.EnforceCooldown(ctx, origin, opts.MaxWaitTime, opts.ThrowOnRateLimit); err != nil {
			return zero, wrapGovernorErr(err)
		}
	}

	var staleEntry *cacheentry.Entry
	if o.Cache != nil {
		entry, ok, err := o.Cache.Get(ctx, fp)
		if err != nil {
			o.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("cache get failed")
		} else if ok && vary.Matches(entry, reqHeaders) {
			class := freshness.Classify(entry, nowMs(), opts.CacheOverrides)
			switch class {
			case freshness.Fresh:
				var v T
				if err := decodeValue(&v, entry.Value); err != nil {
					return zero, &Error{Kind: KindSerialization, Message: err.Error(), Cause: err}
				}
				return v, nil
			case freshness.NoCache:
				if opts.CacheOverrides.IgnoreNoCache {
					var v T
					if err := decodeValue(&v, entry.Value); err == nil {
						return v, nil
					}
				}
				staleEntry = entry
			case freshness.MustRevalidate, freshness.Stale, freshness.StaleIfError:
				staleEntry = entry
			case freshness.StaleWhileRevalidate:
				var v T
				if err := decodeValue(&v, entry.Value); err == nil {
					o.scheduleRevalidation(rawURL, opts, fp, entry, origin, resource, priority)
					return v, nil
				}
				staleEntry = entry
			}
		}
	}

	fetchOnce := func(ctx context.Context) (any, error) {
		return o.fetchRecordAndCache(ctx, rawURL, origin, resource, priority, fp, opts, staleEntry)
	}

	var raw any
	var err error
	if o.Dedupe != nil {
		raw, err = dedupe.Join(ctx, o.Dedupe, fp, fetchOnce)
	} else {
		raw, err = fetchOnce(ctx)
	}

	if err != nil {
		if staleEntry != nil && isStaleIfErrorEligible(staleEntry, nowMs(), opts.CacheOverrides) && isServerOrNetworkError(err) {
			var v T
			if derr := decodeValue(&v, staleEntry.Value); derr == nil {
				return v, nil
			}
		}
		return zero, err
	}

	body, ok := raw.([]byte)
	if !ok {
		return zero, &Error{Kind: KindSerialization, Message: "unexpected dedup value type"}
	}
	var v T
	if err := decodeValue(&v, body); err != nil {
		return zero, &Error{Kind: KindSerialization, Message: err.Error(), Cause: err}
	}
	return v, nil
}

// fetchRecordAndCache implements steps 5-9 of the pipeline: rate admission,
// fetch-with-retry, response processing, rate recording, and cache write.
// It returns the raw parsed body bytes (pre-generic-decode) so dedupe.Join's
// any-typed protocol can carry it across goroutines.
func (o *Orchestrator) fetchRecordAndCache(ctx context.Context, rawURL, origin, resource string, priority ratelimit.Priority, fp string, opts Options, stale *cacheentry.Entry) (any, error) {
	recorded := false
	if o.RateGovernor != nil {
		rec, err := o.RateGovernor.Admit(ctx, resource, priority, opts.MaxWaitTime, opts.ThrowOnRateLimit)
		if err != nil {
			return nil, wrapGovernorErr(err)
		}
		recorded = rec
	}

	outcome, err := o.doFetch(ctx, rawURL, origin, opts, stale)
	if err != nil {
		return nil, err
	}

	if o.RateGovernor != nil && o.RateGovernor.Store != nil && !recorded {
		_ = o.RateGovernor.Store.Record(ctx, resource, priority)
	}

	if outcome.notModified {
		refreshed := cacheentry.Refresh(stale, outcome.headers, nowMs())
		if o.Cache != nil {
			ttl := freshness.StoreTTLSeconds(refreshed, o.DefaultCacheTTL, opts.CacheOverrides)
			_ = o.Cache.Set(ctx, fp, refreshed, ttl)
		}
		return refreshed.Value, nil
	}

	body := outcome.body
	if outcome.statusCode == 204 || outcome.statusCode == 205 {
		body = nil
	}

	if outcome.statusCode < 200 || outcome.statusCode >= 300 {
		httpErr := &HTTPErrorContext{URL: rawURL, Status: outcome.statusCode, Data: body, Headers: outcome.headers, Message: http.StatusText(outcome.statusCode)}
		if opts.ErrorHandler != nil {
			if err := opts.ErrorHandler(ctx, httpErr); err != nil {
				return nil, err
			}
		}
		return nil, &Error{Kind: KindHTTP, StatusCode: outcome.statusCode, Message: httpErr.Message, Data: body, Headers: outcome.headers}
	}

	contentType := outcome.headers.Get("Content-Type")
	if opts.ResponseTransformer != nil {
		transformed, err := opts.ResponseTransformer(ctx, body, contentType)
		if err != nil {
			return nil, &Error{Kind: KindHandlerThrew, Message: err.Error(), Cause: err}
		}
		body = transformed
	}
	if opts.ResponseHandler != nil {
		handled, err := opts.ResponseHandler(ctx, body)
		if err != nil {
			return nil, &Error{Kind: KindHandlerThrew, Message: err.Error(), Cause: err}
		}
		body = handled
	}

	if o.Cache != nil && (!directivesNoStore(outcome.headers) || opts.CacheOverrides.IgnoreNoStore) {
		entry := cacheentry.Create(body, outcome.headers, outcome.statusCode, nowMs())
		entry.VaryValues = vary.Capture(entry.VaryHeaders, opts.Headers)
		ttl := freshness.StoreTTLSeconds(entry, o.DefaultCacheTTL, opts.CacheOverrides)
		_ = o.Cache.Set(ctx, fp, entry, ttl)
	}

	return body, nil
}

func directivesNoStore(headers http.Header) bool {
	for _, v := range headers.Values("Cache-Control") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "no-store") {
				return true
			}
		}
	}
	return false
}

type fetchOutcome struct {
	statusCode  int
	headers     http.Header
	body        []byte
	notModified bool
}

// doFetch runs the retrying fetch attempt loop.
func (o *Orchestrator) doFetch(ctx context.Context, rawURL, origin string, opts Options, stale *cacheentry.Entry) (fetchOutcome, error) {
	headers := mergeConditionalHeaders(opts.Headers, stale)

	var cfg *retry.Config
	if !opts.RetryDisabled {
		cfg = opts.Retry
	}
	maxAttempts := 1
	if cfg != nil {
		maxAttempts = cfg.MaxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && o.RateGovernor != nil {
			if _, err := o.RateGovernor.EnforceCooldown(ctx, origin, 0, false); err != nil {
				return fetchOutcome{}, wrapGovernorErr(err)
			}
		}

		if o.Interceptors.BeforeRequest != nil {
			o.Interceptors.BeforeRequest(ctx, rawURL, headers)
		}

		resp, err := o.Transport.Fetch(ctx, rawURL, headers)
		if err != nil {
			if ctx.Err() != nil {
				return fetchOutcome{}, ctx.Err()
			}
			lastErr = &Error{Kind: KindNetwork, Message: err.Error(), Cause: err}
			if cfg != nil && attempt < maxAttempts && cfg.IsRetryable(0, err) {
				if werr := o.waitForRetry(ctx, cfg, attempt, 0); werr != nil {
					return fetchOutcome{}, werr
				}
				continue
			}
			return fetchOutcome{}, lastErr
		}

		if o.Interceptors.AfterResponse != nil {
			o.Interceptors.AfterResponse(ctx, rawURL, resp)
		}
		if o.RateGovernor != nil {
			o.RateGovernor.ApplyServerHints(origin, resp.Header, resp.StatusCode, time.Now())
		}

		if resp.StatusCode == http.StatusNotModified {
			return fetchOutcome{statusCode: resp.StatusCode, headers: resp.Header, notModified: true}, nil
		}

		if cfg != nil && attempt < maxAttempts && cfg.IsRetryable(resp.StatusCode, nil) {
			retryAfter, _ := retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			lastErr = &Error{Kind: KindHTTP, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Headers: resp.Header}
			if werr := o.waitForRetry(ctx, cfg, attempt, retryAfter); werr != nil {
				return fetchOutcome{}, werr
			}
			continue
		}

		return fetchOutcome{statusCode: resp.StatusCode, headers: resp.Header, body: resp.Body}, nil
	}
	return fetchOutcome{}, lastErr
}

func (o *Orchestrator) waitForRetry(ctx context.Context, cfg *retry.Config, attempt int, retryAfter time.Duration) error {
	delay := cfg.Delay(attempt, retryAfter)
	if cfg.OnRetry != nil {
		cfg.OnRetry(attempt, delay, 0, nil)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func mergeConditionalHeaders(userHeaders http.Header, stale *cacheentry.Entry) http.Header {
	merged := make(http.Header, len(userHeaders)+2)
	for k, vs := range userHeaders {
		merged[k] = append([]string(nil), vs...)
	}
	if stale != nil {
		if stale.ETag != "" {
			merged.Set("If-None-Match", stale.ETag)
		}
		if stale.LastModified != "" {
			merged.Set("If-Modified-Since", stale.LastModified)
		}
	}
	return merged
}

// decodeValue decodes raw bytes into T. When T is string or []byte, the raw
// bytes are used verbatim; otherwise empty input leaves v unchanged and any
// other input is JSON-decoded.
func decodeValue[T any](v *T, raw []byte) error {
	if sp, ok := any(v).(*string); ok {
		*sp = string(raw)
		return nil
	}
	if sp, ok := any(v).(*[]byte); ok {
		*sp = raw
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func resourceName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	path := strings.TrimRight(u.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 || idx+1 >= len(path) {
		if path == "" {
			return "unknown"
		}
		return path
	}
	segment := path[idx+1:]
	if segment == "" {
		return "unknown"
	}
	return segment
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func isServerOrNetworkError(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind == KindNetwork || (gerr.Kind == KindHTTP && gerr.StatusCode >= 500)
	}
	return false
}

func isStaleIfErrorEligible(entry *cacheentry.Entry, nowMs int64, overrides freshness.Overrides) bool {
	class := freshness.Classify(entry, nowMs, overrides)
	return class == freshness.StaleIfError
}

func wrapGovernorErr(err error) error {
	switch e := err.(type) {
	case *ratelimit.RateLimitedError:
		return &Error{Kind: KindRateLimited, Message: e.Error()}
	case *ratelimit.BudgetExhaustedError:
		return &Error{Kind: KindBudgetExhausted, Message: e.Error()}
	default:
		return err
	}
}

// Package ratelimit implements the rate governor: the server cooldown
// phase, the pluggable store admission phase, and server-hint header
// parsing. The cooldown map is process-local state gating requests against
// an observed server-side limit, generalized from a single ESI-specific
// header pair to configurable header families.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/httpgov/pkg/retry"
)

// Priority is the admission priority class.
type Priority string

const (
	PriorityUser       Priority = "user"
	PriorityBackground Priority = "background"
)

// Status is the point-in-time admission status for a resource.
type Status struct {
	Remaining int
	ResetTime time.Time
	Limit     int
	Adaptive  bool
}

// Store is the pluggable rate-limit backend contract. Basic stores may
// ignore priority.
type Store interface {
	CanProceed(ctx context.Context, resource string, priority Priority) (bool, error)
	Record(ctx context.Context, resource string, priority Priority) error
	GetWaitTime(ctx context.Context, resource string, priority Priority) (time.Duration, error)
	GetStatus(ctx context.Context, resource string) (Status, error)
}

// AtomicStore is an optional capability: a store able to check-and-record
// in a single call. When a store implements it, the governor must not call
// Record again after a successful Acquire.
type AtomicStore interface {
	Store
	Acquire(ctx context.Context, resource string, priority Priority) (bool, error)
}

// RateLimitedError is returned when throwOnRateLimit is set and the caller
// would otherwise have to wait.
type RateLimitedError struct {
	Resource string
	WaitMs   int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ratelimit: %s rate limited, retry in %dms", e.Resource, e.WaitMs)
}

// BudgetExhaustedError is returned when cumulative cooldown+admission
// waiting exceeds the caller's budget.
type BudgetExhaustedError struct {
	Resource string
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("ratelimit: %s exceeded maxWaitTime budget", e.Resource)
}

// HeaderConfig names the header families recognized during server-hint
// application. User-supplied names are prepended to the defaults.
type HeaderConfig struct {
	RetryAfter []string
	Limit      []string
	Remaining  []string
	Reset      []string
	Combined   []string
}

// DefaultHeaderConfig returns the built-in header family names.
func DefaultHeaderConfig() HeaderConfig {
	return HeaderConfig{
		RetryAfter: []string{"retry-after"},
		Limit:      []string{"ratelimit-limit", "x-ratelimit-limit"},
		Remaining:  []string{"ratelimit-remaining", "x-ratelimit-remaining"},
		Reset:      []string{"ratelimit-reset", "x-ratelimit-reset"},
		Combined:   []string{"ratelimit"},
	}
}

// WithUserNames prepends user-supplied names ahead of the current list for
// each family, lowercasing everything.
func (hc HeaderConfig) WithUserNames(user HeaderConfig) HeaderConfig {
	return HeaderConfig{
		RetryAfter: prependLower(user.RetryAfter, hc.RetryAfter),
		Limit:      prependLower(user.Limit, hc.Limit),
		Remaining:  prependLower(user.Remaining, hc.Remaining),
		Reset:      prependLower(user.Reset, hc.Reset),
		Combined:   prependLower(user.Combined, hc.Combined),
	}
}

func prependLower(user, defaults []string) []string {
	out := make([]string, 0, len(user)+len(defaults))
	for _, n := range user {
		out = append(out, strings.ToLower(n))
	}
	out = append(out, defaults...)
	return out
}

// Governor holds the process-local cooldown map and the backing admission
// store; it is safe for concurrent use.
type Governor struct {
	mu        sync.Mutex
	cooldowns map[string]time.Time

	Store   Store
	Headers HeaderConfig
}

// NewGovernor constructs a Governor over the given store with default
// header family names.
func NewGovernor(store Store) *Governor {
	return &Governor{
		cooldowns: make(map[string]time.Time),
		Store:     store,
		Headers:   DefaultHeaderConfig(),
	}
}

// EnforceCooldown implements the server cooldown phase. It returns the
// remaining budget after any sleeps performed.
func (g *Governor) EnforceCooldown(ctx context.Context, origin string, budget time.Duration, throwOnRateLimit bool) (time.Duration, error) {
	remaining := budget
	for {
		wait, active := g.cooldownWait(origin)
		if !active {
			return remaining, nil
		}
		if throwOnRateLimit {
			return remaining, &RateLimitedError{Resource: origin, WaitMs: wait.Milliseconds()}
		}
		sleep := wait
		if budget > 0 && remaining < sleep {
			sleep = remaining
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return remaining, err
		}
		remaining -= sleep
		if budget > 0 && remaining <= 0 {
			return 0, &BudgetExhaustedError{Resource: origin}
		}
	}
}

func (g *Governor) cooldownWait(origin string) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.cooldowns[origin]
	if !ok {
		return 0, false
	}
	wait := time.Until(until)
	if wait <= 0 {
		delete(g.cooldowns, origin)
		return 0, false
	}
	return wait, true
}

func (g *Governor) engageCooldown(origin string, until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.cooldowns[origin]; ok && existing.After(until) {
		return
	}
	g.cooldowns[origin] = until
}

// Admit implements the store admission phase. The returned bool reports
// whether the store already atomically recorded the admission, in which
// case the caller must not call Record again.
func (g *Governor) Admit(ctx context.Context, resource string, priority Priority, budget time.Duration, throwOnRateLimit bool) (recorded bool, err error) {
	if g.Store == nil {
		return false, nil
	}
	as, hasAtomic := g.Store.(AtomicStore)

	remaining := budget
	for {
		var allowed bool
		if hasAtomic {
			allowed, err = as.Acquire(ctx, resource, priority)
		} else {
			allowed, err = g.Store.CanProceed(ctx, resource, priority)
		}
		if err != nil {
			return false, err
		}
		if allowed {
			return hasAtomic, nil
		}

		wait, werr := g.Store.GetWaitTime(ctx, resource, priority)
		if werr != nil {
			return false, werr
		}
		if throwOnRateLimit {
			return false, &RateLimitedError{Resource: resource, WaitMs: wait.Milliseconds()}
		}
		if wait <= 0 {
			wait = 25 * time.Millisecond
		}
		sleep := wait
		if budget > 0 && remaining < sleep {
			sleep = remaining
		}
		if serr := sleepCtx(ctx, sleep); serr != nil {
			return false, serr
		}
		remaining -= sleep
		if budget > 0 && remaining <= 0 {
			return false, &BudgetExhaustedError{Resource: resource}
		}
	}
}

// ApplyServerHints parses the response headers per the configured header
// families and engages a cooldown for origin when warranted.
func (g *Governor) ApplyServerHints(origin string, headers http.Header, status int, now time.Time) {
	var waits []time.Duration

	if raw := firstHeader(headers, g.Headers.RetryAfter); raw != "" {
		if d, ok := retry.ParseRetryAfter(raw, now); ok {
			waits = append(waits, d)
		}
	}

	remaining, hasRemaining := parseNonNegativeInt(firstHeader(headers, g.Headers.Remaining))
	resetRaw := firstHeader(headers, g.Headers.Reset)

	if combined := firstHeader(headers, g.Headers.Combined); combined != "" {
		if r, t, ok := parseCombined(combined); ok {
			if !hasRemaining {
				remaining, hasRemaining = r, true
			}
			if resetRaw == "" {
				resetRaw = strconv.Itoa(t)
			}
		}
	}

	if resetRaw != "" {
		if d, ok := parseResetDelta(resetRaw, now); ok {
			if status == 429 || status == 503 || (hasRemaining && remaining <= 0) {
				waits = append(waits, d)
			}
		}
	}

	if len(waits) == 0 {
		return
	}
	maxWait := waits[0]
	for _, w := range waits[1:] {
		if w > maxWait {
			maxWait = w
		}
	}
	g.engageCooldown(origin, now.Add(maxWait))
}

func firstHeader(headers http.Header, names []string) string {
	for _, name := range names {
		if v := headers.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func parseNonNegativeInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseResetDelta interprets a Reset value as an absolute epoch-second
// timestamp when it is strictly greater than now+1s, otherwise as a
// relative number of seconds.
func parseResetDelta(s string, now time.Time) (time.Duration, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	nowSec := now.Unix()
	if n > nowSec+1 {
		return time.Duration(n-nowSec) * time.Second, true
	}
	return time.Duration(n) * time.Second, true
}

// parseCombined parses the "r=<n>, t=<n>" RateLimit header form.
func parseCombined(s string) (remaining int, resetSeconds int, ok bool) {
	haveR, haveT := false, false
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		switch key {
		case "r":
			if n, err := strconv.Atoi(val); err == nil {
				remaining, haveR = n, true
			}
		case "t":
			if n, err := strconv.Atoi(val); err == nil {
				resetSeconds, haveT = n, true
			}
		}
	}
	return remaining, resetSeconds, haveR || haveT
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package retry implements the fetch-attempt backoff policy: an
// exponential-backoff loop generalized from a fixed per-error-class table
// to caller-supplied configuration and a pluggable retry predicate.
package retry

import (
	"math/rand"
	"net/http"
	"time"
)

// Jitter selects how the capped delay is randomized.
type Jitter string

const (
	JitterNone Jitter = "none"
	JitterFull Jitter = "full"
)

// DefaultRetryableStatuses is the default set of retryable HTTP statuses.
var DefaultRetryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Config is the retry policy configuration. A zero Config with MaxRetries
// left at 0 disables retries entirely.
type Config struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	MaxRetries int
	Jitter    Jitter

	// RetryCondition overrides the default retryable-status/network-failure
	// check when non-nil. statusCode is 0 for network failures.
	RetryCondition func(statusCode int, err error) bool

	// OnRetry is invoked before each sleep, for logging/metrics hooks.
	OnRetry func(attempt int, delay time.Duration, statusCode int, err error)
}

// IsRetryable reports whether the given outcome should be retried under cfg.
func (cfg Config) IsRetryable(statusCode int, err error) bool {
	if cfg.RetryCondition != nil {
		return cfg.RetryCondition(statusCode, err)
	}
	if err != nil {
		return true
	}
	return DefaultRetryableStatuses[statusCode]
}

// Delay computes the backoff for the given 1-indexed attempt, honoring a
// server-provided Retry-After value when it exceeds the computed delay.
func (cfg Config) Delay(attempt int, retryAfter time.Duration) time.Duration {
	capped := cfg.BaseDelay << uint(attempt-1)
	if cfg.MaxDelay > 0 && capped > cfg.MaxDelay {
		capped = cfg.MaxDelay
	}

	delay := capped
	if cfg.Jitter == JitterFull && capped > 0 {
		delay = time.Duration(rand.Int63n(int64(capped)))
	}

	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// ParseRetryAfter parses the Retry-After header: an integer number of
// seconds, or an HTTP-date, returning the delta from now.
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, ok := parseNonNegativeSeconds(header); ok {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func parseNonNegativeSeconds(s string) (int64, bool) {
	var n int64
	if len(s) == 0 {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

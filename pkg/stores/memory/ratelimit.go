package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/httpgov/pkg/capacity"
	"github.com/Sternrassler/httpgov/pkg/ratelimit"
)

// RateLimitConfig configures a resource's sliding window and adaptive
// capacity split between user and background traffic.
type RateLimitConfig struct {
	TotalLimit int
	WindowMs   int64
	Capacity   capacity.Config
}

type resourceWindow struct {
	user       []int64
	background []int64
}

// RateLimitStore is an in-memory, adaptive implementation of
// ratelimit.AtomicStore, built on pkg/capacity's sliding-window allocation
// between user and background priority classes.
type RateLimitStore struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	resources map[string]*resourceWindow
}

// NewRateLimitStore constructs a store applying cfg uniformly to every
// resource key it sees.
func NewRateLimitStore(cfg RateLimitConfig) *RateLimitStore {
	return &RateLimitStore{cfg: cfg, resources: make(map[string]*resourceWindow)}
}

func (s *RateLimitStore) window(resource string) *resourceWindow {
	w, ok := s.resources[resource]
	if !ok {
		w = &resourceWindow{}
		s.resources[resource] = w
	}
	return w
}

func nowEpochMs() int64 { return time.Now().UnixMilli() }

func prune(timestamps []int64, cutoff int64) []int64 {
	i := 0
	for i < len(timestamps) && timestamps[i] < cutoff {
		i++
	}
	return timestamps[i:]
}

// allocation computes the current user/background split and per-priority
// counts, after pruning expired timestamps.
func (s *RateLimitStore) allocation(resource string, w *resourceWindow, now int64) (capacity.Allocation, int, int) {
	cutoff := now - s.cfg.Capacity.MonitoringWindowMs
	if s.cfg.Capacity.MonitoringWindowMs <= 0 {
		cutoff = now - s.cfg.WindowMs
	}
	w.user = prune(w.user, cutoff)
	w.background = prune(w.background, cutoff)

	alloc := capacity.Calculate(s.cfg.TotalLimit, capacity.Metrics{
		UserTimestamps:       w.user,
		BackgroundTimestamps: w.background,
	}, s.cfg.Capacity, now)

	pausedValue := 0.0
	if alloc.BackgroundPaused {
		pausedValue = 1.0
	}
	backgroundPaused.WithLabelValues(resource).Set(pausedValue)

	windowCutoff := now - s.cfg.WindowMs
	userInWindow := countSince(w.user, windowCutoff)
	backgroundInWindow := countSince(w.background, windowCutoff)
	return alloc, userInWindow, backgroundInWindow
}

func countSince(timestamps []int64, cutoff int64) int {
	n := 0
	for _, ts := range timestamps {
		if ts >= cutoff {
			n++
		}
	}
	return n
}

func (s *RateLimitStore) canProceedLocked(resource string, priority ratelimit.Priority, now int64) bool {
	w := s.window(resource)
	alloc, userCount, bgCount := s.allocation(resource, w, now)

	allowed := false
	if priority == ratelimit.PriorityBackground {
		allowed = !alloc.BackgroundPaused && bgCount < alloc.BackgroundMax
	} else {
		// User traffic always preempts background: allowed whenever the
		// reserved share isn't exhausted, or whenever total capacity has
		// headroom regardless of the reservation split.
		allowed = userCount < alloc.UserReserved || userCount+bgCount < s.cfg.TotalLimit
	}
	if !allowed {
		rateLimitBlocksTotal.WithLabelValues(string(priority)).Inc()
	}
	return allowed
}

func (s *RateLimitStore) CanProceed(ctx context.Context, resource string, priority ratelimit.Priority) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canProceedLocked(resource, priority, nowEpochMs()), nil
}

func (s *RateLimitStore) Acquire(ctx context.Context, resource string, priority ratelimit.Priority) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowEpochMs()
	if !s.canProceedLocked(resource, priority, now) {
		return false, nil
	}
	s.recordLocked(resource, priority, now)
	return true, nil
}

func (s *RateLimitStore) recordLocked(resource string, priority ratelimit.Priority, now int64) {
	w := s.window(resource)
	if priority == ratelimit.PriorityBackground {
		w.background = append(w.background, now)
	} else {
		w.user = append(w.user, now)
	}
}

func (s *RateLimitStore) Record(ctx context.Context, resource string, priority ratelimit.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(resource, priority, nowEpochMs())
	return nil
}

// GetWaitTime estimates the time until the oldest timestamp in the relevant
// priority bucket ages out of the window, making room for one more request.
func (s *RateLimitStore) GetWaitTime(ctx context.Context, resource string, priority ratelimit.Priority) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowEpochMs()
	w := s.window(resource)
	s.allocation(resource, w, now)

	bucket := w.user
	if priority == ratelimit.PriorityBackground {
		bucket = w.background
	}
	if len(bucket) == 0 {
		return 25 * time.Millisecond, nil
	}
	oldest := bucket[0]
	waitMs := oldest + s.cfg.WindowMs - now
	if waitMs <= 0 {
		return 0, nil
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}

func (s *RateLimitStore) GetStatus(ctx context.Context, resource string) (ratelimit.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowEpochMs()
	w := s.window(resource)
	_, userCount, bgCount := s.allocation(resource, w, now)

	used := userCount + bgCount
	remaining := s.cfg.TotalLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Status{
		Remaining: remaining,
		Limit:     s.cfg.TotalLimit,
		ResetTime: time.UnixMilli(now + s.cfg.WindowMs),
		Adaptive:  true,
	}, nil
}

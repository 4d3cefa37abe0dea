package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/httpgov/pkg/capacity"
	"github.com/Sternrassler/httpgov/pkg/ratelimit"
)

// memberSeq disambiguates sorted-set members recorded within the same
// millisecond, since ZADD treats a repeated member as a score update
// rather than a second entry.
var memberSeq uint64

func nextMember(nowMs int64) string {
	n := atomic.AddUint64(&memberSeq, 1)
	return fmt.Sprintf("%d-%d", nowMs, n)
}

// RateLimitStore implements ratelimit.Store as a Redis sorted-set sliding
// window, one member per admitted request timestamp, shared across every
// process pointed at the same Redis instance. It intentionally does not
// implement ratelimit.AtomicStore: CanProceed and Record are independent
// round trips, so concurrent admission across processes can race by a
// small margin under heavy load.
type RateLimitStore struct {
	client *redis.Client
	prefix string
	cfg    RateLimitConfig
}

// RateLimitConfig mirrors pkg/stores/memory.RateLimitConfig; kept as a
// separate type since the two stores may reasonably be tuned differently.
type RateLimitConfig struct {
	TotalLimit int
	WindowMs   int64
	Capacity   capacity.Config
}

// NewRateLimitStore constructs a Redis-backed rate limit store.
func NewRateLimitStore(client *redis.Client, prefix string, cfg RateLimitConfig) (*RateLimitStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &RateLimitStore{client: client, prefix: prefix, cfg: cfg}, nil
}

func (s *RateLimitStore) setKey(resource string, priority ratelimit.Priority) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, resource, priority)
}

// prune removes members older than windowMs and returns the remaining
// count, all in one round trip.
func (s *RateLimitStore) prune(ctx context.Context, key string, nowMs, windowMs int64) (int64, error) {
	cutoff := nowMs - windowMs
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return countCmd.Val(), nil
}

// timestamps fetches the full sliding-window member set as int64 scores,
// used to feed pkg/capacity's Metrics inputs.
func (s *RateLimitStore) timestamps(ctx context.Context, key string, nowMs, windowMs int64) ([]int64, error) {
	cutoff := nowMs - windowMs
	vals, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: strconv.FormatInt(nowMs, 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(vals))
	for _, z := range vals {
		out = append(out, int64(z.Score))
	}
	return out, nil
}

func (s *RateLimitStore) allocation(ctx context.Context, resource string, nowMs int64) (capacity.Allocation, int64, int64, error) {
	userKey := s.setKey(resource, ratelimit.PriorityUser)
	bgKey := s.setKey(resource, ratelimit.PriorityBackground)

	monitorWindow := s.cfg.Capacity.MonitoringWindowMs
	if monitorWindow <= 0 {
		monitorWindow = s.cfg.WindowMs
	}

	userTimestamps, err := s.timestamps(ctx, userKey, nowMs, monitorWindow)
	if err != nil {
		return capacity.Allocation{}, 0, 0, err
	}
	bgTimestamps, err := s.timestamps(ctx, bgKey, nowMs, monitorWindow)
	if err != nil {
		return capacity.Allocation{}, 0, 0, err
	}

	alloc := capacity.Calculate(s.cfg.TotalLimit, capacity.Metrics{
		UserTimestamps:       userTimestamps,
		BackgroundTimestamps: bgTimestamps,
	}, s.cfg.Capacity, nowMs)

	pausedValue := 0.0
	if alloc.BackgroundPaused {
		pausedValue = 1.0
	}
	backgroundPaused.WithLabelValues(resource).Set(pausedValue)

	userCount, err := s.prune(ctx, userKey, nowMs, s.cfg.WindowMs)
	if err != nil {
		return capacity.Allocation{}, 0, 0, err
	}
	bgCount, err := s.prune(ctx, bgKey, nowMs, s.cfg.WindowMs)
	if err != nil {
		return capacity.Allocation{}, 0, 0, err
	}
	return alloc, userCount, bgCount, nil
}

func (s *RateLimitStore) CanProceed(ctx context.Context, resource string, priority ratelimit.Priority) (bool, error) {
	now := nowEpochMs()
	alloc, userCount, bgCount, err := s.allocation(ctx, resource, now)
	if err != nil {
		return false, err
	}
	allowed := evaluateAdmission(alloc, priority, userCount, bgCount, int64(s.cfg.TotalLimit))
	if !allowed {
		rateLimitBlocksTotal.WithLabelValues(string(priority)).Inc()
	}
	return allowed, nil
}

func evaluateAdmission(alloc capacity.Allocation, priority ratelimit.Priority, userCount, bgCount, totalLimit int64) bool {
	if priority == ratelimit.PriorityBackground {
		if alloc.BackgroundPaused {
			return false
		}
		return bgCount < int64(alloc.BackgroundMax)
	}
	return userCount < int64(alloc.UserReserved) || userCount+bgCount < totalLimit
}

func (s *RateLimitStore) Record(ctx context.Context, resource string, priority ratelimit.Priority) error {
	now := nowEpochMs()
	key := s.setKey(resource, priority)
	return s.client.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: nextMember(now)}).Err()
}

func (s *RateLimitStore) GetWaitTime(ctx context.Context, resource string, priority ratelimit.Priority) (time.Duration, error) {
	now := nowEpochMs()
	key := s.setKey(resource, priority)
	oldest, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, err
	}
	if len(oldest) == 0 {
		return 25 * time.Millisecond, nil
	}
	waitMs := int64(oldest[0].Score) + s.cfg.WindowMs - now
	if waitMs <= 0 {
		return 0, nil
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}

func (s *RateLimitStore) GetStatus(ctx context.Context, resource string) (ratelimit.Status, error) {
	now := nowEpochMs()
	_, userCount, bgCount, err := s.allocation(ctx, resource, now)
	if err != nil {
		return ratelimit.Status{}, err
	}
	remaining := int64(s.cfg.TotalLimit) - userCount - bgCount
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Status{
		Remaining: int(remaining),
		Limit:     s.cfg.TotalLimit,
		ResetTime: time.UnixMilli(now + s.cfg.WindowMs),
		Adaptive:  true,
	}, nil
}

func nowEpochMs() int64 { return time.Now().UnixMilli() }

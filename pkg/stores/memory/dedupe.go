package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/httpgov/pkg/dedupe"
)

// jobRetention is how long a settled job stays visible to a late WaitFor
// caller that registered before Complete/Fail closed it, before the key is
// freed for a fresh job. Requests for the same fingerprint beyond this
// window are expected to hit the cache store instead of dedupe.
const jobRetention = 5 * time.Second

// job tracks one in-flight or settled dedup key for the explicit
// register/complete/fail protocol.
type job struct {
	done  chan struct{}
	value any
	ok    bool
}

// DedupeStore implements dedupe.Store directly with a mutex-protected job
// registry, and additionally implements dedupe.SingleFlightStore via
// golang.org/x/sync/singleflight.Group.Do: pkg/dedupe.Join prefers the
// latter when available, since singleflight already guarantees "first
// caller's function runs, concurrent callers share its result" without the
// explicit register/complete bookkeeping below.
type DedupeStore struct {
	group singleflight.Group

	mu   sync.Mutex
	jobs map[string]*job
}

// NewDedupeStore constructs an empty in-memory dedupe store.
func NewDedupeStore() *DedupeStore {
	return &DedupeStore{jobs: make(map[string]*job)}
}

// Do implements dedupe.SingleFlightStore. Concurrent calls for the same key
// share one singleflight.Group.Do invocation, so fetch runs exactly once
// regardless of how many callers join.
func (s *DedupeStore) Do(ctx context.Context, key string, fetch dedupe.Fetch) (any, error) {
	ran := false
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		ran = true
		return fetch(ctx)
	})
	if ran {
		dedupeOwnersTotal.Inc()
	} else if shared {
		dedupeJoinsTotal.Inc()
	}
	return v, err
}

func (s *DedupeStore) WaitFor(ctx context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	j, exists := s.jobs[key]
	s.mu.Unlock()
	if !exists {
		return nil, false, nil
	}
	select {
	case <-j.done:
		return j.value, j.ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *DedupeStore) RegisterOrJoin(ctx context.Context, key string) (dedupe.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, exists := s.jobs[key]; exists && !settled(j) {
		return dedupe.RegisterResult{JobID: dedupe.JobID(key), IsOwner: false}, nil
	}
	s.jobs[key] = &job{done: make(chan struct{})}
	return dedupe.RegisterResult{JobID: dedupe.JobID(key), IsOwner: true}, nil
}

func (s *DedupeStore) Register(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, exists := s.jobs[key]; exists && !settled(j) {
		return nil
	}
	s.jobs[key] = &job{done: make(chan struct{})}
	return nil
}

func (s *DedupeStore) Complete(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, exists := s.jobs[key]
	if !exists || settled(j) {
		return nil // already settled; Complete is idempotent
	}
	j.value = value
	j.ok = true
	close(j.done)
	s.scheduleCleanup(key, j)
	return nil
}

func (s *DedupeStore) Fail(ctx context.Context, key string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, exists := s.jobs[key]
	if !exists || settled(j) {
		return nil
	}
	j.ok = false
	close(j.done)
	s.scheduleCleanup(key, j)
	return nil
}

// scheduleCleanup frees key after jobRetention, unless a newer job has
// already replaced it in the registry.
func (s *DedupeStore) scheduleCleanup(key string, settledJob *job) {
	time.AfterFunc(jobRetention, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if current, ok := s.jobs[key]; ok && current == settledJob {
			delete(s.jobs, key)
		}
	})
}

func settled(j *job) bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (s *DedupeStore) IsInProgress(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, exists := s.jobs[key]
	if !exists {
		return false, nil
	}
	return !settled(j), nil
}

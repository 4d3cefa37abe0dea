package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/httpgov/pkg/dedupe"
)

// DedupeStore implements dedupe.Store across processes sharing one Redis
// instance. Ownership is decided with SETNX (first writer wins); since
// there is no cross-process channel to block on, WaitFor polls at
// pollInterval until the job resolves or ctx is done.
type DedupeStore struct {
	client       *redis.Client
	prefix       string
	jobTTL       time.Duration
	pollInterval time.Duration
}

type dedupeRecord struct {
	Status string          `json:"status"` // "pending", "done", "failed"
	Value  json.RawMessage `json:"value,omitempty"`
}

// NewDedupeStore constructs a Redis-backed dedupe store. jobTTL bounds how
// long a stuck owner (crashed mid-fetch) blocks joiners before the key
// expires and a fresh owner can take over. pollInterval controls how often
// WaitFor re-checks a pending job.
func NewDedupeStore(client *redis.Client, prefix string, jobTTL, pollInterval time.Duration) (*DedupeStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if pollInterval <= 0 {
		pollInterval = 25 * time.Millisecond
	}
	return &DedupeStore{client: client, prefix: prefix, jobTTL: jobTTL, pollInterval: pollInterval}, nil
}

func (s *DedupeStore) key(k string) string {
	return s.prefix + k
}

func (s *DedupeStore) WaitFor(ctx context.Context, key string) (any, bool, error) {
	for {
		rec, exists, err := s.load(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, nil
		}
		switch rec.Status {
		case "done":
			var v any
			if len(rec.Value) > 0 {
				if err := json.Unmarshal(rec.Value, &v); err != nil {
					return nil, false, err
				}
			}
			return v, true, nil
		case "failed":
			return nil, false, nil
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *DedupeStore) load(ctx context.Context, key string) (dedupeRecord, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return dedupeRecord{}, false, nil
		}
		return dedupeRecord{}, false, err
	}
	var rec dedupeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return dedupeRecord{}, false, err
	}
	return rec, true, nil
}

func (s *DedupeStore) RegisterOrJoin(ctx context.Context, key string) (dedupe.RegisterResult, error) {
	data, _ := json.Marshal(dedupeRecord{Status: "pending"})
	ok, err := s.client.SetNX(ctx, s.key(key), data, s.jobTTL).Result()
	if err != nil {
		return dedupe.RegisterResult{}, err
	}
	if ok {
		dedupeOwnersTotal.Inc()
	}
	return dedupe.RegisterResult{JobID: dedupe.JobID(key), IsOwner: ok}, nil
}

func (s *DedupeStore) Register(ctx context.Context, key string) error {
	_, err := s.RegisterOrJoin(ctx, key)
	return err
}

func (s *DedupeStore) Complete(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	data, err := json.Marshal(dedupeRecord{Status: "done", Value: raw})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, s.jobTTL).Err()
}

func (s *DedupeStore) Fail(ctx context.Context, key string, cause error) error {
	data, err := json.Marshal(dedupeRecord{Status: "failed"})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, s.jobTTL).Err()
}

func (s *DedupeStore) IsInProgress(ctx context.Context, key string) (bool, error) {
	rec, exists, err := s.load(ctx, key)
	if err != nil {
		return false, err
	}
	return exists && rec.Status == "pending", nil
}

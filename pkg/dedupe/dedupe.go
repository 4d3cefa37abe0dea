// Package dedupe implements the request-coalescing coordinator. The store
// contract is intentionally small and store-local sentinel encodings (for
// null/undefined round-trips) stay out of this package; the in-memory
// implementation lives in pkg/stores/memory atop golang.org/x/sync/singleflight.
package dedupe

import (
	"context"
	"errors"
)

// ErrUpstreamFailed is surfaced to a joiner when the owning job failed
// before the joiner's second WaitFor resolved. Joiners never retry the
// fetch themselves on this outcome.
var ErrUpstreamFailed = errors.New("dedupe: upstream request failed")

// JobID identifies a registered dedup job. Opaque to callers.
type JobID string

// RegisterResult is returned by Store.RegisterOrJoin.
type RegisterResult struct {
	JobID   JobID
	IsOwner bool
}

// Store is the pluggable dedup backend contract.
type Store interface {
	// WaitFor resolves to a completed value, or ok=false if no job is
	// pending/completed for key (including the case where the owning job
	// failed).
	WaitFor(ctx context.Context, key string) (value any, ok bool, err error)

	// RegisterOrJoin atomically creates a job for key if absent, or joins
	// the in-flight one. The caller owning the returned job must eventually
	// call Complete or Fail.
	RegisterOrJoin(ctx context.Context, key string) (RegisterResult, error)

	// Register is a non-atomic fallback for stores that cannot offer
	// RegisterOrJoin; callers using it must tolerate a duplicate-owner race.
	Register(ctx context.Context, key string) error

	// Complete is idempotent: a second call for an already-completed key
	// is a no-op.
	Complete(ctx context.Context, key string, value any) error

	Fail(ctx context.Context, key string, cause error) error

	IsInProgress(ctx context.Context, key string) (bool, error)
}

// Fetch performs the underlying owner-side work for a dedup job.
type Fetch func(ctx context.Context) (any, error)

// SingleFlightStore is an optional capability a store may offer: an atomic
// owner-or-join cycle in one call, bypassing the explicit
// register/complete/fail protocol. pkg/stores/memory implements it atop
// golang.org/x/sync/singleflight, which already solves "first caller runs
// fn, concurrent callers share its result" directly.
type SingleFlightStore interface {
	Store
	Do(ctx context.Context, key string, fetch Fetch) (any, error)
}

// Join runs the four-step dedup protocol: short-circuit on an
// already-available value, register-or-join, and for non-owners, block on
// the owner's completion without re-attempting the fetch themselves. When
// store also implements SingleFlightStore, Join delegates to its Do method
// instead, since that collapses the whole protocol into the one
// singleflight.Group.Do call it is built on.
func Join(ctx context.Context, store Store, key string, fetch Fetch) (any, error) {
	if sf, ok := store.(SingleFlightStore); ok {
		return sf.Do(ctx, key, fetch)
	}

	if v, ok, err := store.WaitFor(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	reg, err := store.RegisterOrJoin(ctx, key)
	if err != nil {
		return nil, err
	}

	if reg.IsOwner {
		v, err := fetch(ctx)
		if err != nil {
			if failErr := store.Fail(ctx, key, err); failErr != nil {
				return nil, failErr
			}
			return nil, err
		}
		if err := store.Complete(ctx, key, v); err != nil {
			return nil, err
		}
		return v, nil
	}

	v, ok, err := store.WaitFor(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUpstreamFailed
	}
	return v, nil
}

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
	"github.com/Sternrassler/httpgov/pkg/capacity"
	"github.com/Sternrassler/httpgov/pkg/ratelimit"
)

// setupTestRedis skips the test instead of failing when no local Redis is
// reachable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestNewCacheStore_RejectsNilClient(t *testing.T) {
	if _, err := NewCacheStore(nil, "x:"); err != ErrNilClient {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestCacheStore_SetGetDelete(t *testing.T) {
	client := setupTestRedis(t)
	store, err := NewCacheStore(client, "httpgov:test:cache:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	entry := &cacheentry.Entry{Envelope: true, StatusCode: 200, Value: []byte(`{"ok":true}`)}
	if err := store.Set(ctx, "k1", entry, 60); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := store.Get(ctx, "k1")
	if err != nil || !ok || got.StatusCode != 200 {
		t.Fatalf("get: got=%v ok=%v err=%v", got, ok, err)
	}

	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k1"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestCacheStore_NegativeTTLDeletes(t *testing.T) {
	client := setupTestRedis(t)
	store, _ := NewCacheStore(client, "httpgov:test:cache:")
	ctx := context.Background()

	entry := &cacheentry.Entry{Envelope: true, StatusCode: 200}
	store.Set(ctx, "k2", entry, 60)
	if err := store.Set(ctx, "k2", entry, -1); err != nil {
		t.Fatalf("negative ttl set: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k2"); ok {
		t.Fatalf("expected key removed by negative ttl")
	}
}

func TestDedupeStore_OwnerThenJoinerThenComplete(t *testing.T) {
	client := setupTestRedis(t)
	store, err := NewDedupeStore(client, "httpgov:test:dedupe:", 10*time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	reg1, err := store.RegisterOrJoin(ctx, "job1")
	if err != nil || !reg1.IsOwner {
		t.Fatalf("expected owner: %+v err=%v", reg1, err)
	}
	reg2, err := store.RegisterOrJoin(ctx, "job1")
	if err != nil || reg2.IsOwner {
		t.Fatalf("expected joiner: %+v err=%v", reg2, err)
	}

	done := make(chan struct{})
	var value any
	var ok bool
	go func() {
		value, ok, _ = store.WaitFor(ctx, "job1")
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := store.Complete(ctx, "job1", map[string]any{"status": "ok"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("joiner never observed completion")
	}
	if !ok {
		t.Fatalf("expected ok=true after completion")
	}
	if value == nil {
		t.Fatalf("expected non-nil value")
	}
}

func TestRateLimitStore_CanProceedAndRecord(t *testing.T) {
	client := setupTestRedis(t)
	store, err := NewRateLimitStore(client, "httpgov:test:rl:", RateLimitConfig{
		TotalLimit: 5,
		WindowMs:   1000,
		Capacity: capacity.Config{
			MonitoringWindowMs:        1000,
			HighActivityThreshold:     3,
			ModerateActivityThreshold: 1,
			MaxUserScaling:            1.0,
			MinUserReserved:           1,
		},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	allowed, err := store.CanProceed(ctx, "origin", ratelimit.PriorityUser)
	if err != nil || !allowed {
		t.Fatalf("expected initial admission to be allowed: %v err=%v", allowed, err)
	}
	if err := store.Record(ctx, "origin", ratelimit.PriorityUser); err != nil {
		t.Fatalf("record: %v", err)
	}

	status, err := store.GetStatus(ctx, "origin")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Remaining != status.Limit-1 {
		t.Fatalf("expected remaining to reflect the recorded admission, got %+v", status)
	}
}

package leveldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
)

func openTestStore(t *testing.T) *CacheStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.ldb"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCacheStore_SetGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := &cacheentry.Entry{Envelope: true, StatusCode: 200, Value: []byte("hi")}
	if err := s.Set(ctx, "k", entry, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || got.StatusCode != 200 {
		t.Fatalf("get: got=%v ok=%v err=%v", got, ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestCacheStore_NeverExpiresWhenTTLZero(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entry := &cacheentry.Entry{Envelope: true, StatusCode: 200}
	s.Set(ctx, "k", entry, 0)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatalf("expected entry with ttl=0 to persist")
	}
}

func TestCacheStore_NegativeTTLDeletesImmediately(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	entry := &cacheentry.Entry{Envelope: true, StatusCode: 200}
	s.Set(ctx, "k", entry, 60)
	if err := s.Set(ctx, "k", entry, -1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected negative ttl to remove entry")
	}
}

func TestCacheStore_Clear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "a", &cacheentry.Entry{Envelope: true}, 60)
	s.Set(ctx, "b", &cacheentry.Entry{Envelope: true}, 60)
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("expected a gone after clear")
	}
	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Fatalf("expected b gone after clear")
	}
}

package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, profile string) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), profile)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://"+s.Addr(), "ops")
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", "ops"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestRedisSetGetClear(t *testing.T) {
	store, s := setupTestRedis(t, "ops")
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, Refresh, "refresh-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, Refresh)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "refresh-1" {
		t.Fatalf("expected refresh-1, got %q", got)
	}
	if !s.Exists("console:ops:refresh") {
		t.Fatal("expected namespaced key console:ops:refresh")
	}

	if err := store.Clear(ctx, Refresh); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, err = store.Get(ctx, Refresh)
	if err != nil {
		t.Fatalf("Get after clear failed: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty slot after clear, got %q", got)
	}
}

func TestRedisClearMissingKey(t *testing.T) {
	store, _ := setupTestRedis(t, "ops")
	defer store.Close()

	if err := store.Clear(context.Background(), Access); err != nil {
		t.Errorf("Clear on empty slot failed: %v", err)
	}
}

func TestRedisTTLExpiresSlot(t *testing.T) {
	store, s := setupTestRedis(t, "ops")
	defer store.Close()
	store.WithTTL(Access, time.Minute)

	ctx := context.Background()
	if err := store.Set(ctx, Access, "access-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, Access)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "" {
		t.Fatalf("expected expired access token, got %q", got)
	}
}

func TestRedisProfileIsolation(t *testing.T) {
	s := miniredis.RunT(t)
	ops, err := NewRedisStore("redis://"+s.Addr(), "ops")
	if err != nil {
		t.Fatalf("NewRedisStore ops: %v", err)
	}
	defer ops.Close()
	staging, err := NewRedisStore("redis://"+s.Addr(), "staging")
	if err != nil {
		t.Fatalf("NewRedisStore staging: %v", err)
	}
	defer staging.Close()

	ctx := context.Background()
	if err := ops.Set(ctx, Refresh, "ops-token"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := staging.Get(ctx, Refresh)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "" {
		t.Fatalf("expected profiles to be isolated, got %q", got)
	}
}

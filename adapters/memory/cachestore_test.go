package memory

import (
	"context"
	"testing"
	"time"

	"github.com/artpar/usagegate/ports"
)

func TestCacheStoreSetGet(t *testing.T) {
	store := NewCacheStore(CacheStoreConfig{})
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	entry := ports.CacheEntry{
		Key:       "abc123",
		Value:     []byte(`{"text":"hello"}`),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "abc123", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatalf("Get() ok = false, want hit")
	}
	if string(got.Value) != `{"text":"hello"}` {
		t.Errorf("Value = %q", got.Value)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}

	// Each hit bumps the access count.
	got, _, _ = store.Get(ctx, "abc123", now.Add(2*time.Minute))
	if got.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2", got.AccessCount)
	}
}

func TestCacheStoreMiss(t *testing.T) {
	store := NewCacheStore(CacheStoreConfig{})
	defer store.Close()

	_, ok, err := store.Get(context.Background(), "nope", time.Now())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Errorf("Get() ok = true for missing key, want false")
	}
}

func TestCacheStoreExpiry(t *testing.T) {
	store := NewCacheStore(CacheStoreConfig{})
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	store.Set(ctx, ports.CacheEntry{
		Key:       "k",
		Value:     []byte("v"),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	})

	if _, ok, _ := store.Get(ctx, "k", now.Add(59*time.Second)); !ok {
		t.Errorf("entry expired early")
	}
	// Expiry boundary is exclusive: at ExpiresAt the entry is gone.
	if _, ok, _ := store.Get(ctx, "k", now.Add(time.Minute)); ok {
		t.Errorf("entry still served at its expiry instant")
	}
	if got := store.Len(); got != 0 {
		t.Errorf("Len() = %d after expired read, want 0", got)
	}
}

// TestCacheStoreCopies verifies callers cannot mutate stored values
// through the slices they pass in or get back.
func TestCacheStoreCopies(t *testing.T) {
	store := NewCacheStore(CacheStoreConfig{})
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	original := []byte("original")
	store.Set(ctx, ports.CacheEntry{Key: "k", Value: original, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	original[0] = 'X'

	got, _, _ := store.Get(ctx, "k", now)
	if string(got.Value) != "original" {
		t.Errorf("stored value mutated through caller slice: %q", got.Value)
	}

	got.Value[0] = 'Y'
	again, _, _ := store.Get(ctx, "k", now)
	if string(again.Value) != "original" {
		t.Errorf("stored value mutated through returned slice: %q", again.Value)
	}
}

func TestCacheStoreCleanup(t *testing.T) {
	store := NewCacheStore(CacheStoreConfig{CleanupInterval: time.Hour})
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	store.Set(ctx, ports.CacheEntry{Key: "stale", CreatedAt: now, ExpiresAt: now.Add(time.Minute)})
	store.Set(ctx, ports.CacheEntry{Key: "live", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

	store.doCleanup(now.Add(2 * time.Minute))

	if got := store.Len(); got != 1 {
		t.Errorf("Len() after cleanup = %d, want 1", got)
	}
	if _, ok, _ := store.Get(ctx, "live", now.Add(2*time.Minute)); !ok {
		t.Errorf("live entry evicted by cleanup")
	}
}

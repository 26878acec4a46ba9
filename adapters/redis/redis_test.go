package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

func testClient(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRateLimitStoreCheck(t *testing.T) {
	store := NewRateLimitStore(testClient(t))
	ctx := context.Background()
	cfg := ratelimit.Config{Limit: 3, Window: time.Minute}
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		r, err := store.Check(ctx, "user-1:openai", cfg, now.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Check() #%d error = %v", i+1, err)
		}
		if !r.Allowed {
			t.Errorf("Check() #%d allowed = false, want true", i+1)
		}
		if r.Remaining != 3-i-1 {
			t.Errorf("Check() #%d remaining = %d, want %d", i+1, r.Remaining, 3-i-1)
		}
	}

	// Fourth request inside the window is blocked with a retry hint.
	r, err := store.Check(ctx, "user-1:openai", cfg, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if r.Allowed {
		t.Errorf("fourth check allowed = true, want false")
	}
	if r.RetryAfter != 50*time.Second {
		t.Errorf("RetryAfter = %v, want 50s", r.RetryAfter)
	}
	if r.Reason != ratelimit.ReasonLimitExceeded {
		t.Errorf("Reason = %q", r.Reason)
	}
	if got, want := r.ResetAt, now.Add(time.Minute); !got.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", got, want)
	}

	// The window anchors at the first request; past it a new one opens.
	r, _ = store.Check(ctx, "user-1:openai", cfg, now.Add(61*time.Second))
	if !r.Allowed || r.Remaining != 2 {
		t.Errorf("post-window check = %+v, want allowed with remaining 2", r)
	}
}

func TestRateLimitStoreIndependentKeys(t *testing.T) {
	store := NewRateLimitStore(testClient(t))
	ctx := context.Background()
	cfg := ratelimit.Config{Limit: 1, Window: time.Minute}
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	store.Check(ctx, "a", cfg, now)
	r, _ := store.Check(ctx, "a", cfg, now)
	if r.Allowed {
		t.Errorf("second check on a allowed = true, want false")
	}
	r, _ = store.Check(ctx, "b", cfg, now)
	if !r.Allowed {
		t.Errorf("check on b allowed = false, want true")
	}
}

func TestCacheStoreRoundTrip(t *testing.T) {
	store := NewCacheStore(testClient(t))
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	entry := ports.CacheEntry{
		Key:       "abc",
		Value:     []byte(`{"text":"hello"}`),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "abc", now.Add(time.Minute))
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

	got, _, _ = store.Get(ctx, "abc", now.Add(2*time.Minute))
	if got.AccessCount != 2 {
		t.Errorf("AccessCount after second hit = %d, want 2", got.AccessCount)
	}
}

func TestCacheStoreMissAndExpiry(t *testing.T) {
	store := NewCacheStore(testClient(t))
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	if _, ok, err := store.Get(ctx, "nope", now); err != nil || ok {
		t.Errorf("Get() missing = ok=%v err=%v, want miss", ok, err)
	}

	store.Set(ctx, ports.CacheEntry{Key: "k", Value: []byte("v"), CreatedAt: now, ExpiresAt: now.Add(time.Minute)})
	// Entry deadline is enforced even before Redis drops the key.
	if _, ok, _ := store.Get(ctx, "k", now.Add(time.Minute)); ok {
		t.Errorf("Get() at expiry ok = true, want miss")
	}
}

func TestCacheStoreSetExpired(t *testing.T) {
	store := NewCacheStore(testClient(t))
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	err := store.Set(context.Background(), ports.CacheEntry{Key: "k", CreatedAt: now, ExpiresAt: now})
	if err == nil {
		t.Errorf("Set() with zero TTL error = nil, want error")
	}
}

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// -----------------------------------------------------------------------------
// UsageStore
// -----------------------------------------------------------------------------

func TestUsageStore(t *testing.T) {
	db := openTestDB(t)
	store := NewUsageStore(db)
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	err := store.RecordBatch(ctx, []usage.Event{
		{ID: "e1", Identity: "user-1", Provider: "openai", Endpoint: "chat", TokensIn: 100, TokensOut: 50, CostUSD: 0.01, LatencyMs: 100, StatusCode: 200, Period: "2025-01", Timestamp: base},
		{ID: "e2", Identity: "user-1", Provider: "anthropic", Endpoint: "messages", TokensIn: 200, TokensOut: 100, CostUSD: 0.05, LatencyMs: 200, StatusCode: 200, Period: "2025-01", Timestamp: base.Add(time.Minute)},
		{ID: "e3", Identity: "user-1", Provider: "openai", Endpoint: "chat", StatusCode: 504, Period: "2025-01", Timestamp: base.Add(2 * time.Minute)},
		{ID: "e4", Identity: "user-2", Provider: "openai", Endpoint: "chat", TokensIn: 5, StatusCode: 200, Period: "2025-01", Timestamp: base},
	})
	if err != nil {
		t.Fatalf("RecordBatch() error = %v", err)
	}

	sum, err := store.GetSummary(ctx, "user-1", "2025-01")
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if sum.Calls != 3 || sum.TokensIn != 300 || sum.TokensOut != 150 {
		t.Errorf("GetSummary() = %+v", sum)
	}
	if sum.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", sum.ErrorCount)
	}
	if sum.Provider != "*" {
		t.Errorf("Provider = %q, want %q for mixed providers", sum.Provider, "*")
	}
	if sum.AvgLatencyMs != 100 {
		t.Errorf("AvgLatencyMs = %d, want 100", sum.AvgLatencyMs)
	}

	psum, err := store.GetProviderSummary(ctx, "user-1", "openai", "2025-01")
	if err != nil {
		t.Fatalf("GetProviderSummary() error = %v", err)
	}
	if psum.Calls != 2 || psum.TokensIn != 100 || psum.Provider != "openai" {
		t.Errorf("GetProviderSummary() = %+v", psum)
	}

	recent, err := store.GetRecent(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("GetRecent() len = %d, want 2", len(recent))
	}
	if recent[0].ID != "e3" || recent[1].ID != "e2" {
		t.Errorf("GetRecent() order = [%s %s], want newest first [e3 e2]", recent[0].ID, recent[1].ID)
	}
}

func TestUsageStoreEmptySummary(t *testing.T) {
	db := openTestDB(t)
	store := NewUsageStore(db)

	sum, err := store.GetSummary(context.Background(), "nobody", "2025-01")
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if sum.Calls != 0 || sum.CostUSD != 0 {
		t.Errorf("GetSummary() on empty table = %+v, want zeros", sum)
	}
	if sum.Identity != "nobody" || sum.Period != "2025-01" {
		t.Errorf("summary coordinates = %+v", sum)
	}
}

// -----------------------------------------------------------------------------
// LedgerStore
// -----------------------------------------------------------------------------

func TestLedgerStore(t *testing.T) {
	db := openTestDB(t)
	store := NewLedgerStore(db)
	ctx := context.Background()

	// Missing row reads as zero totals.
	got, err := store.Get(ctx, "user-1", "openai", "2025-01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Calls != 0 || got.Suspended {
		t.Errorf("Get() missing row = %+v, want zero summary", got)
	}

	got, err = store.Increment(ctx, "user-1", "openai", "2025-01", quota.Delta{Calls: 1, Tokens: 500, CostUSD: 0.02})
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if got.Calls != 1 || got.Tokens != 500 {
		t.Errorf("after first increment = %+v", got)
	}

	got, _ = store.Increment(ctx, "user-1", "openai", "2025-01", quota.Delta{Calls: 1, Tokens: 500, CostUSD: 0.02})
	if got.Calls != 2 || got.Tokens != 1000 {
		t.Errorf("after second increment = %+v", got)
	}

	// Suspension survives further increments and resume keeps totals.
	if err := store.SetSuspended(ctx, "user-1", "openai", "2025-01", true); err != nil {
		t.Fatalf("SetSuspended() error = %v", err)
	}
	got, _ = store.Increment(ctx, "user-1", "openai", "2025-01", quota.Delta{Calls: 1})
	if !got.Suspended || got.Calls != 3 {
		t.Errorf("after increment while suspended = %+v", got)
	}
	store.SetSuspended(ctx, "user-1", "openai", "2025-01", false)
	got, _ = store.Get(ctx, "user-1", "openai", "2025-01")
	if got.Suspended || got.Calls != 3 {
		t.Errorf("after resume = %+v", got)
	}
}

func TestLedgerStoreCleanup(t *testing.T) {
	db := openTestDB(t)
	store := NewLedgerStore(db)
	ctx := context.Background()

	store.Increment(ctx, "user-1", "openai", "2024-10", quota.Delta{Calls: 1})
	store.Increment(ctx, "user-1", "openai", "2025-01", quota.Delta{Calls: 1})

	n, err := store.Cleanup(ctx, "2024-11")
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup() removed %d rows, want 1", n)
	}
	got, _ := store.Get(ctx, "user-1", "openai", "2025-01")
	if got.Calls != 1 {
		t.Errorf("current row calls = %d, want 1", got.Calls)
	}
}

// -----------------------------------------------------------------------------
// KeyStore
// -----------------------------------------------------------------------------

func TestKeyStore(t *testing.T) {
	db := openTestDB(t)
	store := NewKeyStore(db)
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	_, k, err := key.Generate("ug_", "user-1", "pro", "ci key", now)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := store.Create(ctx, k); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	keys, err := store.Get(ctx, k.Prefix)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(keys) != 1 || keys[0].Identity != "user-1" || keys[0].Plan != "pro" {
		t.Fatalf("Get() = %+v", keys)
	}
	if keys[0].ExpiresAt != nil || keys[0].RevokedAt != nil {
		t.Errorf("fresh key has non-nil expiry or revocation: %+v", keys[0])
	}

	if err := store.Revoke(ctx, k.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	keys, _ = store.Get(ctx, k.Prefix)
	if keys[0].RevokedAt == nil {
		t.Errorf("RevokedAt = nil after Revoke")
	}

	// Revoking twice or revoking an unknown id fails.
	if err := store.Revoke(ctx, k.ID, now.Add(2*time.Hour)); err == nil {
		t.Errorf("second Revoke() error = nil, want error")
	}

	listed, err := store.ListByIdentity(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByIdentity() error = %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("ListByIdentity() len = %d, want 1", len(listed))
	}
}

// -----------------------------------------------------------------------------
// AlertStore
// -----------------------------------------------------------------------------

func TestAlertStore(t *testing.T) {
	db := openTestDB(t)
	store := NewAlertStore(db)
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	for i, a := range []ports.Alert{
		{ID: "a1", Kind: ports.AlertKindThreshold, Identity: "user-1", Provider: "openai", Status: quota.StatusWarning, Message: "80% of quota used"},
		{ID: "a2", Kind: ports.AlertKindError, Identity: "user-1", Severity: "HIGH", Message: "provider unreachable"},
	} {
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, a); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	alerts, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("ListRecent() len = %d, want 2", len(alerts))
	}
	if alerts[0].ID != "a2" {
		t.Errorf("newest alert = %s, want a2", alerts[0].ID)
	}
	if alerts[1].Kind != ports.AlertKindThreshold || alerts[1].Status != quota.StatusWarning {
		t.Errorf("threshold alert round-trip = %+v", alerts[1])
	}

	one, _ := store.ListRecent(ctx, 1)
	if len(one) != 1 {
		t.Errorf("ListRecent(1) len = %d, want 1", len(one))
	}
}

// -----------------------------------------------------------------------------
// CacheStore
// -----------------------------------------------------------------------------

func TestCacheStore(t *testing.T) {
	db := openTestDB(t)
	store := NewCacheStore(db)
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	entry := ports.CacheEntry{Key: "k1", Value: []byte("v1"), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "k1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || string(got.Value) != "v1" {
		t.Fatalf("Get() = %+v ok=%v", got, ok)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}

	// Expired entries are misses.
	if _, ok, _ := store.Get(ctx, "k1", now.Add(2*time.Hour)); ok {
		t.Errorf("Get() past expiry ok = true, want miss")
	}

	// Set replaces the previous value.
	store.Set(ctx, ports.CacheEntry{Key: "k1", Value: []byte("v2"), CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	got, _, _ = store.Get(ctx, "k1", now.Add(time.Minute))
	if string(got.Value) != "v2" {
		t.Errorf("Value after replace = %q, want %q", got.Value, "v2")
	}

	n, err := store.Cleanup(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup() removed %d, want 1", n)
	}
}

package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/clock"
	"github.com/artpar/usagegate/adapters/idgen"
	"github.com/artpar/usagegate/adapters/memory"
	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/ports"
)

// stubLimits resolves every (plan, provider) pair to one fixed limit.
type stubLimits struct {
	limit quota.Limit
}

func (s stubLimits) Resolve(plan, provider string) quota.Limit {
	return s.limit
}

func newTestLedger(t *testing.T, limit quota.Limit) (*LedgerService, *memory.AlertStore, *clock.Fake) {
	t.Helper()
	store := memory.NewLedgerStore(memory.LedgerStoreConfig{CleanupInterval: time.Hour})
	t.Cleanup(func() { store.Close() })
	alerts := memory.NewAlertStore()
	clk := clock.NewFake(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	svc := NewLedgerService(store, stubLimits{limit}, alerts, nil, clk, idgen.NewSequential("alert_"), nil, zerolog.Nop())
	return svc, alerts, clk
}

var user = ports.Identity{ID: "user-1", Plan: "pro", Authenticated: true}

func TestLedgerCheckAllowsFreshIdentity(t *testing.T) {
	svc, _, _ := newTestLedger(t, quota.Limit{Calls: 10})

	if err := svc.Check(context.Background(), user, "openai"); err != nil {
		t.Errorf("Check() on empty ledger error = %v, want nil", err)
	}
}

func TestLedgerBlocksAtLimit(t *testing.T) {
	svc, _, _ := newTestLedger(t, quota.Limit{Calls: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Check(ctx, user, "openai"); err != nil {
			t.Fatalf("Check() #%d error = %v", i+1, err)
		}
		if _, err := svc.Record(ctx, user, "openai", quota.Delta{Calls: 1}); err != nil {
			t.Fatalf("Record() #%d error = %v", i+1, err)
		}
	}

	err := svc.Check(ctx, user, "openai")
	if !errors.Is(err, errclass.ErrQuotaExceeded) {
		t.Errorf("Check() at limit error = %v, want ErrQuotaExceeded", err)
	}

	// Recording stays permissive past the limit.
	sum, err := svc.Record(ctx, user, "openai", quota.Delta{Calls: 1})
	if err != nil {
		t.Fatalf("Record() past limit error = %v", err)
	}
	if sum.Calls != 4 {
		t.Errorf("Calls = %d, want 4", sum.Calls)
	}
}

func TestLedgerThresholdAlerts(t *testing.T) {
	svc, alerts, _ := newTestLedger(t, quota.Limit{Calls: 10})
	ctx := context.Background()

	// 1..7 calls: active, no alerts.
	for i := 0; i < 7; i++ {
		svc.Record(ctx, user, "openai", quota.Delta{Calls: 1})
	}
	if got, _ := alerts.ListRecent(ctx, 10); len(got) != 0 {
		t.Fatalf("alerts below warning threshold = %d, want 0", len(got))
	}

	// Call 8 crosses 80%: exactly one warning alert.
	svc.Record(ctx, user, "openai", quota.Delta{Calls: 1})
	got, _ := alerts.ListRecent(ctx, 10)
	if len(got) != 1 {
		t.Fatalf("alerts after warning crossing = %d, want 1", len(got))
	}
	if got[0].Kind != ports.AlertKindThreshold || got[0].Status != quota.StatusWarning {
		t.Errorf("warning alert = %+v", got[0])
	}

	// Call 9 stays in warning: no new alert.
	svc.Record(ctx, user, "openai", quota.Delta{Calls: 1})
	if got, _ := alerts.ListRecent(ctx, 10); len(got) != 1 {
		t.Errorf("alerts within warning band = %d, want still 1", len(got))
	}

	// Call 10 crosses 100%: one more alert.
	svc.Record(ctx, user, "openai", quota.Delta{Calls: 1})
	got, _ = alerts.ListRecent(ctx, 10)
	if len(got) != 2 {
		t.Fatalf("alerts after limit crossing = %d, want 2", len(got))
	}
	if got[0].Status != quota.StatusLimitReached {
		t.Errorf("limit alert status = %v", got[0].Status)
	}
}

func TestLedgerSuspendResume(t *testing.T) {
	svc, _, _ := newTestLedger(t, quota.Limit{Calls: 100})
	ctx := context.Background()

	svc.Record(ctx, user, "openai", quota.Delta{Calls: 5})

	if err := svc.Suspend(ctx, user.ID, "openai"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	if err := svc.Check(ctx, user, "openai"); !errors.Is(err, errclass.ErrSuspended) {
		t.Errorf("Check() while suspended error = %v, want ErrSuspended", err)
	}

	if err := svc.Resume(ctx, user.ID, "openai"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if err := svc.Check(ctx, user, "openai"); err != nil {
		t.Errorf("Check() after resume error = %v, want nil", err)
	}

	// Totals survived the suspend/resume cycle.
	sum, status, _, err := svc.Status(ctx, user, "openai")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if sum.Calls != 5 || status != quota.StatusActive {
		t.Errorf("Status() = %+v / %v", sum, status)
	}
}

func TestLedgerUnlimitedPlan(t *testing.T) {
	svc, alerts, _ := newTestLedger(t, quota.Limit{})
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		svc.Record(ctx, user, "openai", quota.Delta{Calls: 1, CostUSD: 1})
	}
	if err := svc.Check(ctx, user, "openai"); err != nil {
		t.Errorf("Check() on unlimited plan error = %v, want nil", err)
	}
	if got, _ := alerts.ListRecent(ctx, 10); len(got) != 0 {
		t.Errorf("alerts on unlimited plan = %d, want 0", len(got))
	}
}

// flakyLedgerStore fails a scripted number of increments, then recovers.
type flakyLedgerStore struct {
	*memory.LedgerStore
	failures int
}

func (s *flakyLedgerStore) Increment(ctx context.Context, identity, provider, period string, d quota.Delta) (quota.Summary, error) {
	if s.failures > 0 {
		s.failures--
		return quota.Summary{}, errors.New("disk full")
	}
	return s.LedgerStore.Increment(ctx, identity, provider, period, d)
}

// settableLimits lets a test change the resolved limit mid-flight.
type settableLimits struct {
	limit quota.Limit
}

func (s *settableLimits) Resolve(plan, provider string) quota.Limit {
	return s.limit
}

func TestLedgerRetriesFailedIncrement(t *testing.T) {
	mem := memory.NewLedgerStore(memory.LedgerStoreConfig{CleanupInterval: time.Hour})
	t.Cleanup(func() { mem.Close() })
	store := &flakyLedgerStore{LedgerStore: mem, failures: 1}
	clk := clock.NewFake(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	svc := NewLedgerService(store, stubLimits{quota.Limit{Calls: 100}}, memory.NewAlertStore(), nil, clk, idgen.NewSequential("alert_"), nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Record(ctx, user, "openai", quota.Delta{Calls: 1, CostUSD: 0.25})
	if err == nil {
		t.Fatal("Record() with failing store error = nil, want error")
	}
	if got := svc.Pending(); got != 1 {
		t.Fatalf("Pending() after failure = %d, want 1", got)
	}

	// The next recording replays the queued delta before its own.
	if _, err := svc.Record(ctx, user, "openai", quota.Delta{Calls: 1, CostUSD: 0.5}); err != nil {
		t.Fatalf("Record() after recovery error = %v", err)
	}
	if got := svc.Pending(); got != 0 {
		t.Errorf("Pending() after recovery = %d, want 0", got)
	}

	sum, _, _, err := svc.Status(ctx, user, "openai")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if sum.Calls != 2 || sum.CostUSD != 0.75 {
		t.Errorf("totals after retry = %d calls / $%.2f, want 2 / $0.75", sum.Calls, sum.CostUSD)
	}
}

func TestLedgerLimitImmutableWithinPeriod(t *testing.T) {
	store := memory.NewLedgerStore(memory.LedgerStoreConfig{CleanupInterval: time.Hour})
	t.Cleanup(func() { store.Close() })
	limits := &settableLimits{limit: quota.Limit{Calls: 10}}
	clk := clock.NewFake(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	svc := NewLedgerService(store, limits, memory.NewAlertStore(), nil, clk, idgen.NewSequential("alert_"), nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.Record(ctx, user, "openai", quota.Delta{Calls: 10}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := svc.Check(ctx, user, "openai"); !errors.Is(err, errclass.ErrQuotaExceeded) {
		t.Fatalf("Check() at limit error = %v, want ErrQuotaExceeded", err)
	}

	// Raising the configured limit mid-period must not reopen the quota.
	limits.limit = quota.Limit{Calls: 1000}
	if err := svc.Check(ctx, user, "openai"); !errors.Is(err, errclass.ErrQuotaExceeded) {
		t.Errorf("Check() after mid-period raise error = %v, want ErrQuotaExceeded", err)
	}
	_, status, limit, err := svc.Status(ctx, user, "openai")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != quota.StatusLimitReached {
		t.Errorf("status after mid-period raise = %v, want limit_reached", status)
	}
	if limit.Calls != 10 {
		t.Errorf("effective limit = %d calls, want snapshot of 10", limit.Calls)
	}

	// The raise applies from the next period's first use.
	clk.Set(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err := svc.Check(ctx, user, "openai"); err != nil {
		t.Errorf("Check() in new period error = %v, want nil", err)
	}
	_, _, limit, err = svc.Status(ctx, user, "openai")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if limit.Calls != 1000 {
		t.Errorf("next period limit = %d calls, want 1000", limit.Calls)
	}
}

func TestLedgerPeriodRollover(t *testing.T) {
	svc, _, clk := newTestLedger(t, quota.Limit{Calls: 2})
	ctx := context.Background()

	svc.Record(ctx, user, "openai", quota.Delta{Calls: 2})
	if err := svc.Check(ctx, user, "openai"); !errors.Is(err, errclass.ErrQuotaExceeded) {
		t.Fatalf("Check() at limit error = %v, want ErrQuotaExceeded", err)
	}

	// New billing period, fresh row.
	clk.Set(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err := svc.Check(ctx, user, "openai"); err != nil {
		t.Errorf("Check() in new period error = %v, want nil", err)
	}
}

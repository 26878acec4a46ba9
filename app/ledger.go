// Package app contains the orchestration services composing the pure
// domain with the storage and delivery adapters.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/ports"
)

// maxPendingDeltas bounds the retry queue for failed ledger increments.
// Overflow drops the oldest delta with an error log.
const maxPendingDeltas = 1024

// pendingDelta is a ledger increment awaiting retry after a store
// failure. The period is captured at enqueue time so a late replay
// lands in the billing period the call belonged to.
type pendingDelta struct {
	identity ports.Identity
	provider string
	period   string
	delta    quota.Delta
}

// LedgerService enforces quotas and maintains the running totals. The
// admission gate is restrictive but recording is always permissive: a
// call that already happened is counted no matter what state the row
// is in. Increments that fail to persist are queued and retried on the
// next recording, never dropped.
type LedgerService struct {
	store   ports.LedgerStore
	limits  ports.LimitResolver
	alerts  ports.AlertStore
	sinks   []ports.AlertSink
	clock   ports.Clock
	ids     ports.IDGenerator
	metrics *metrics.Collector
	log     zerolog.Logger

	pendingMu sync.Mutex
	pending   []pendingDelta
}

// NewLedgerService creates a ledger service.
func NewLedgerService(store ports.LedgerStore, limits ports.LimitResolver, alerts ports.AlertStore, sinks []ports.AlertSink, clock ports.Clock, ids ports.IDGenerator, m *metrics.Collector, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:   store,
		limits:  limits,
		alerts:  alerts,
		sinks:   sinks,
		clock:   clock,
		ids:     ids,
		metrics: m,
		log:     log.With().Str("component", "ledger").Logger(),
	}
}

// Check gates new work against the caller's quota for a provider.
// Suspended rows and rows at or past their limit reject.
func (s *LedgerService) Check(ctx context.Context, identity ports.Identity, provider string) error {
	period := quota.PeriodKey(s.clock.Now())
	row, err := s.store.Get(ctx, identity.ID, provider, period)
	if err != nil {
		return fmt.Errorf("ledger read: %w", err)
	}

	limit, err := s.effectiveLimit(ctx, identity, provider, period)
	if err != nil {
		return fmt.Errorf("limit snapshot: %w", err)
	}
	status := quota.StatusOf(row, limit)

	if status == quota.StatusSuspended {
		return fmt.Errorf("%w: %s/%s", errclass.ErrSuspended, identity.ID, provider)
	}
	if quota.Blocked(status) {
		return fmt.Errorf("%w: %s at %.0f%% for %s", errclass.ErrQuotaExceeded,
			identity.ID, quota.PercentUsed(row, limit), provider)
	}
	return nil
}

// Record applies a usage delta to the current period's row. When the
// increment pushes the row across the warning or limit threshold, one
// threshold alert is emitted for that crossing. A failed increment is
// queued and replayed by a later Record, so transient store failures
// never lose accounting.
func (s *LedgerService) Record(ctx context.Context, identity ports.Identity, provider string, d quota.Delta) (quota.Summary, error) {
	s.drainPending(ctx)

	p := pendingDelta{
		identity: identity,
		provider: provider,
		period:   quota.PeriodKey(s.clock.Now()),
		delta:    d,
	}
	after, err := s.apply(ctx, p)
	if err != nil {
		s.enqueue(p)
		return quota.Summary{}, fmt.Errorf("ledger increment: %w", err)
	}
	return after, nil
}

// apply performs one increment with crossing detection.
func (s *LedgerService) apply(ctx context.Context, p pendingDelta) (quota.Summary, error) {
	after, err := s.store.Increment(ctx, p.identity.ID, p.provider, p.period, p.delta)
	if err != nil {
		return quota.Summary{}, err
	}

	// Derive the pre-increment totals from the atomic result so crossing
	// detection happens exactly once even under concurrent increments.
	before := after
	before.Calls -= p.delta.Calls
	before.Tokens -= p.delta.Tokens
	before.CostUSD -= p.delta.CostUSD

	limit, lerr := s.store.EffectiveLimit(ctx, p.identity.ID, p.provider, p.period, s.limits.Resolve(p.identity.Plan, p.provider))
	if lerr != nil {
		// Alerting degrades to the live limit; the increment already held.
		s.log.Warn().Err(lerr).Str("identity", p.identity.ID).Msg("limit snapshot read failed")
		limit = s.limits.Resolve(p.identity.Plan, p.provider)
	}
	statusBefore := quota.StatusOf(before, limit)
	statusAfter := quota.StatusOf(after, limit)

	if s.metrics != nil {
		s.metrics.QuotaPercent.WithLabelValues(p.identity.ID, p.provider).
			Set(quota.PercentUsed(after, limit))
	}
	if statusAfter > statusBefore && statusAfter != quota.StatusSuspended {
		s.thresholdAlert(ctx, p.identity.ID, p.provider, after, limit, statusAfter)
	}
	return after, nil
}

// enqueue queues a failed increment for retry, dropping the oldest
// entry when the queue is full.
func (s *LedgerService) enqueue(p pendingDelta) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if len(s.pending) >= maxPendingDeltas {
		dropped := s.pending[0]
		s.pending = s.pending[1:]
		s.log.Error().
			Str("identity", dropped.identity.ID).
			Str("provider", dropped.provider).
			Msg("ledger retry queue full, dropping oldest delta")
	}
	s.pending = append(s.pending, p)
	s.log.Warn().
		Str("identity", p.identity.ID).
		Str("provider", p.provider).
		Int("queued", len(s.pending)).
		Msg("ledger increment queued for retry")
}

// drainPending replays queued increments in order, stopping at the
// first failure and requeueing the remainder at the front.
func (s *LedgerService) drainPending(ctx context.Context) {
	s.pendingMu.Lock()
	queued := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for i, p := range queued {
		if _, err := s.apply(ctx, p); err != nil {
			s.pendingMu.Lock()
			s.pending = append(queued[i:], s.pending...)
			s.pendingMu.Unlock()
			return
		}
	}
}

// Pending reports the number of increments awaiting retry.
func (s *LedgerService) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Status reports the row, its effective status and the governing limit.
func (s *LedgerService) Status(ctx context.Context, identity ports.Identity, provider string) (quota.Summary, quota.Status, quota.Limit, error) {
	period := quota.PeriodKey(s.clock.Now())
	row, err := s.store.Get(ctx, identity.ID, provider, period)
	if err != nil {
		return quota.Summary{}, 0, quota.Limit{}, fmt.Errorf("ledger read: %w", err)
	}
	limit, err := s.effectiveLimit(ctx, identity, provider, period)
	if err != nil {
		return quota.Summary{}, 0, quota.Limit{}, fmt.Errorf("limit snapshot: %w", err)
	}
	return row, quota.StatusOf(row, limit), limit, nil
}

// effectiveLimit returns the period's limit snapshot, seeding it from
// the live plan configuration on the row's first use.
func (s *LedgerService) effectiveLimit(ctx context.Context, identity ports.Identity, provider, period string) (quota.Limit, error) {
	candidate := s.limits.Resolve(identity.Plan, provider)
	return s.store.EffectiveLimit(ctx, identity.ID, provider, period, candidate)
}

// Suspend administratively blocks an identity for a provider in the
// current period.
func (s *LedgerService) Suspend(ctx context.Context, identityID, provider string) error {
	return s.setSuspended(ctx, identityID, provider, true)
}

// Resume lifts an administrative suspension. Accrued totals are kept,
// so a row past its limit stays blocked on quota grounds.
func (s *LedgerService) Resume(ctx context.Context, identityID, provider string) error {
	return s.setSuspended(ctx, identityID, provider, false)
}

func (s *LedgerService) setSuspended(ctx context.Context, identityID, provider string, suspended bool) error {
	period := quota.PeriodKey(s.clock.Now())
	if err := s.store.SetSuspended(ctx, identityID, provider, period, suspended); err != nil {
		return fmt.Errorf("ledger suspend: %w", err)
	}
	s.log.Info().
		Str("identity", identityID).
		Str("provider", provider).
		Bool("suspended", suspended).
		Msg("suspension flag changed")
	return nil
}

// thresholdAlert persists and delivers one alert for a status crossing.
// Failures are logged and swallowed; alerting never blocks accounting.
func (s *LedgerService) thresholdAlert(ctx context.Context, identityID, provider string, row quota.Summary, limit quota.Limit, status quota.Status) {
	a := ports.Alert{
		ID:       s.ids.New(),
		Kind:     ports.AlertKindThreshold,
		Identity: identityID,
		Provider: provider,
		Status:   status,
		Message: fmt.Sprintf("quota %s for %s/%s: %.0f%% used",
			status, identityID, provider, quota.PercentUsed(row, limit)),
		CreatedAt: s.clock.Now(),
	}

	if err := s.alerts.Create(ctx, a); err != nil {
		s.log.Error().Err(err).Str("alert_id", a.ID).Msg("persist threshold alert")
	}
	for _, sink := range s.sinks {
		if err := sink.Notify(ctx, a); err != nil {
			s.log.Warn().Err(err).Str("alert_id", a.ID).Msg("deliver threshold alert")
		}
	}
}

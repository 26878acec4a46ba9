package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite. The upsert in
// Increment is a single statement, so concurrent increments for one row
// serialize inside the database and totals never lose updates.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Get retrieves the current ledger row. A missing row yields a
// zero-total summary, never an error.
func (s *LedgerStore) Get(ctx context.Context, identity, provider, period string) (quota.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT calls, tokens, cost_usd, suspended
		FROM quota_ledger
		WHERE identity = ? AND provider = ? AND period = ?
	`, identity, provider, period)

	summary := quota.Summary{Identity: identity, Provider: provider, Period: period}
	var suspended int
	err := row.Scan(&summary.Calls, &summary.Tokens, &summary.CostUSD, &suspended)
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}
	if err != nil {
		return quota.Summary{}, err
	}
	summary.Suspended = suspended != 0
	return summary, nil
}

// Increment applies a delta and returns the updated row, creating the
// row lazily on first use.
func (s *LedgerStore) Increment(ctx context.Context, identity, provider, period string, d quota.Delta) (quota.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO quota_ledger (identity, provider, period, calls, tokens, cost_usd, suspended, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(identity, provider, period) DO UPDATE SET
			calls = calls + excluded.calls,
			tokens = tokens + excluded.tokens,
			cost_usd = cost_usd + excluded.cost_usd,
			updated_at = excluded.updated_at
		RETURNING calls, tokens, cost_usd, suspended
	`, identity, provider, period, d.Calls, d.Tokens, d.CostUSD, time.Now().UTC())

	summary := quota.Summary{Identity: identity, Provider: provider, Period: period}
	var suspended int
	if err := row.Scan(&summary.Calls, &summary.Tokens, &summary.CostUSD, &suspended); err != nil {
		return quota.Summary{}, err
	}
	summary.Suspended = suspended != 0
	return summary, nil
}

// EffectiveLimit returns the period's limit snapshot, inserting the
// candidate on first use. The no-op conflict update makes the insert
// and the read one atomic statement, so concurrent first uses agree on
// a single snapshot.
func (s *LedgerStore) EffectiveLimit(ctx context.Context, identity, provider, period string, candidate quota.Limit) (quota.Limit, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO quota_limit_snapshots (identity, provider, period, calls, tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity, provider, period) DO UPDATE SET identity = excluded.identity
		RETURNING calls, tokens, cost_usd
	`, identity, provider, period, candidate.Calls, candidate.Tokens, candidate.CostUSD, time.Now().UTC())

	var limit quota.Limit
	if err := row.Scan(&limit.Calls, &limit.Tokens, &limit.CostUSD); err != nil {
		return quota.Limit{}, err
	}
	return limit, nil
}

// SetSuspended flips the administrative suspension flag, creating the
// row if it does not exist yet.
func (s *LedgerStore) SetSuspended(ctx context.Context, identity, provider, period string, suspended bool) error {
	flag := 0
	if suspended {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_ledger (identity, provider, period, calls, tokens, cost_usd, suspended, updated_at)
		VALUES (?, ?, ?, 0, 0, 0, ?, ?)
		ON CONFLICT(identity, provider, period) DO UPDATE SET
			suspended = excluded.suspended,
			updated_at = excluded.updated_at
	`, identity, provider, period, flag, time.Now().UTC())
	return err
}

// Cleanup removes ledger rows and limit snapshots for periods older
// than the cutoff period key. Returns the number of ledger rows removed.
func (s *LedgerStore) Cleanup(ctx context.Context, cutoffPeriod string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM quota_ledger WHERE period < ?
	`, cutoffPeriod)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM quota_limit_snapshots WHERE period < ?
	`, cutoffPeriod); err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)

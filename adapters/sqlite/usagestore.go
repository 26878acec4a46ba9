package sqlite

import (
	"context"

	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

// UsageStore implements ports.UsageStore using SQLite. Events are
// append-only; nothing here issues UPDATE or DELETE.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// RecordBatch stores multiple usage events in one transaction.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_events (
			id, identity, provider, endpoint, tokens_in, tokens_out,
			cost_usd, latency_ms, status_code, period, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		// Store timestamps in UTC for consistent querying.
		_, err := stmt.ExecContext(ctx,
			e.ID, e.Identity, e.Provider, e.Endpoint, e.TokensIn, e.TokensOut,
			e.CostUSD, e.LatencyMs, e.StatusCode, e.Period, e.Timestamp.UTC(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetSummary returns aggregated usage for an identity and period across
// all providers.
func (s *UsageStore) GetSummary(ctx context.Context, identity, period string) (usage.Summary, error) {
	return s.summary(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT provider),
			COALESCE(MAX(provider), ''),
			COALESCE(SUM(tokens_in), 0),
			COALESCE(SUM(tokens_out), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
			CAST(COALESCE(AVG(latency_ms), 0) AS INTEGER)
		FROM usage_events
		WHERE identity = ? AND period = ?
	`, identity, period, "", identity, period)
}

// GetProviderSummary returns aggregated usage for one provider.
func (s *UsageStore) GetProviderSummary(ctx context.Context, identity, provider, period string) (usage.Summary, error) {
	return s.summary(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT provider),
			COALESCE(MAX(provider), ''),
			COALESCE(SUM(tokens_in), 0),
			COALESCE(SUM(tokens_out), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
			CAST(COALESCE(AVG(latency_ms), 0) AS INTEGER)
		FROM usage_events
		WHERE identity = ? AND provider = ? AND period = ?
	`, identity, period, provider, identity, provider, period)
}

func (s *UsageStore) summary(ctx context.Context, query, identity, period, provider string, args ...any) (usage.Summary, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	summary := usage.Summary{Identity: identity, Period: period}
	var providerCount int64
	var lastProvider string
	err := row.Scan(
		&summary.Calls,
		&providerCount,
		&lastProvider,
		&summary.TokensIn,
		&summary.TokensOut,
		&summary.CostUSD,
		&summary.ErrorCount,
		&summary.AvgLatencyMs,
	)
	if err != nil {
		return usage.Summary{}, err
	}

	switch {
	case provider != "":
		summary.Provider = provider
	case providerCount > 1:
		summary.Provider = "*"
	default:
		summary.Provider = lastProvider
	}
	return summary, nil
}

// GetRecent returns the most recent events for an identity, newest first.
func (s *UsageStore) GetRecent(ctx context.Context, identity string, limit int) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, provider, endpoint, tokens_in, tokens_out,
		       cost_usd, latency_ms, status_code, period, timestamp
		FROM usage_events
		WHERE identity = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var e usage.Event
		err := rows.Scan(
			&e.ID, &e.Identity, &e.Provider, &e.Endpoint, &e.TokensIn, &e.TokensOut,
			&e.CostUSD, &e.LatencyMs, &e.StatusCode, &e.Period, &e.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)

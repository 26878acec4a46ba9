package sqlite

import (
	"context"

	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/ports"
)

// AlertStore implements ports.AlertStore using SQLite.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates a new SQLite alert store.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// Create persists an alert record.
func (s *AlertStore) Create(ctx context.Context, a ports.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, kind, identity, provider, severity, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Kind), a.Identity, a.Provider, string(a.Severity), int(a.Status), a.Message, a.CreatedAt.UTC())
	return err
}

// ListRecent returns the newest alerts first.
func (s *AlertStore) ListRecent(ctx context.Context, limit int) ([]ports.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, identity, provider, severity, status, message, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []ports.Alert
	for rows.Next() {
		var a ports.Alert
		var kind, severity string
		var status int
		err := rows.Scan(&a.ID, &kind, &a.Identity, &a.Provider, &severity, &status, &a.Message, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		a.Kind = ports.AlertKind(kind)
		a.Severity = errclass.Severity(severity)
		a.Status = quota.Status(status)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// Ensure interface compliance.
var _ ports.AlertStore = (*AlertStore)(nil)

package memory

import (
	"context"
	"sync"

	"github.com/artpar/usagegate/ports"
)

// AlertStore is an in-memory implementation of ports.AlertStore.
type AlertStore struct {
	mu     sync.RWMutex
	alerts []ports.Alert
}

// NewAlertStore creates a new in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{}
}

// Create appends an alert.
func (s *AlertStore) Create(ctx context.Context, a ports.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

// ListRecent returns the newest alerts first.
func (s *AlertStore) ListRecent(ctx context.Context, limit int) ([]ports.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.Alert, 0, len(s.alerts))
	for i := len(s.alerts) - 1; i >= 0; i-- {
		out = append(out, s.alerts[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.AlertStore = (*AlertStore)(nil)

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
// Useful for tests and for running without a database; events do not
// survive a restart.
type UsageStore struct {
	mu     sync.RWMutex
	events []usage.Event
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

// RecordBatch appends events. Events are never mutated after this.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// GetSummary folds events for an identity and period across providers.
func (s *UsageStore) GetSummary(ctx context.Context, identity, period string) (usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []usage.Event
	for _, e := range s.events {
		if e.Identity == identity && e.Period == period {
			matched = append(matched, e)
		}
	}
	return usage.Aggregate(matched, identity, period), nil
}

// GetProviderSummary folds events for one provider.
func (s *UsageStore) GetProviderSummary(ctx context.Context, identity, provider, period string) (usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []usage.Event
	for _, e := range s.events {
		if e.Identity == identity && e.Provider == provider && e.Period == period {
			matched = append(matched, e)
		}
	}
	summary := usage.Aggregate(matched, identity, period)
	summary.Provider = provider
	return summary, nil
}

// GetRecent returns the most recent events for an identity.
func (s *UsageStore) GetRecent(ctx context.Context, identity string, limit int) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []usage.Event
	for _, e := range s.events {
		if e.Identity == identity {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len returns the total number of stored events (for testing).
func (s *UsageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)

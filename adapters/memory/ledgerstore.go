package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/ports"
)

// ledgerShard is a single shard of the ledger store.
type ledgerShard struct {
	mu     sync.Mutex
	rows   map[string]quota.Summary
	limits map[string]limitSnapshot
}

// limitSnapshot is a per-period limit captured at a row's first use.
type limitSnapshot struct {
	limit  quota.Limit
	period string
}

// LedgerStore is a sharded in-memory implementation of ports.LedgerStore.
// Increments for one (identity, provider, period) row run under the row's
// shard lock, so totals are never lost under concurrent callers; rows in
// different shards proceed fully in parallel.
type LedgerStore struct {
	shards    []*ledgerShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// LedgerStoreConfig configures the ledger store.
type LedgerStoreConfig struct {
	NumShards       int           // default 32
	CleanupInterval time.Duration // default 1h
}

// NewLedgerStore creates a new sharded in-memory ledger store.
func NewLedgerStore(cfg LedgerStoreConfig) *LedgerStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	s := &LedgerStore{
		shards:    make([]*ledgerShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &ledgerShard{
			rows:   make(map[string]quota.Summary),
			limits: make(map[string]limitSnapshot),
		}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

func rowKey(identity, provider, period string) string {
	return fmt.Sprintf("%s:%s:%s", identity, provider, period)
}

func (s *LedgerStore) getShard(key string) *ledgerShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get retrieves the current row, or a zero-total row if absent.
func (s *LedgerStore) Get(ctx context.Context, identity, provider, period string) (quota.Summary, error) {
	k := rowKey(identity, provider, period)
	shard := s.getShard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if row, ok := shard.rows[k]; ok {
		return row, nil
	}
	return quota.Summary{Identity: identity, Provider: provider, Period: period}, nil
}

// Increment atomically applies a delta, creating the row lazily.
func (s *LedgerStore) Increment(ctx context.Context, identity, provider, period string, d quota.Delta) (quota.Summary, error) {
	k := rowKey(identity, provider, period)
	shard := s.getShard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	row, ok := shard.rows[k]
	if !ok {
		row = quota.Summary{Identity: identity, Provider: provider, Period: period}
	}
	row = row.Add(d)
	shard.rows[k] = row
	return row, nil
}

// EffectiveLimit returns the period's limit snapshot, recording the
// candidate on first use. The snapshot never changes for the rest of
// the period.
func (s *LedgerStore) EffectiveLimit(ctx context.Context, identity, provider, period string, candidate quota.Limit) (quota.Limit, error) {
	k := rowKey(identity, provider, period)
	shard := s.getShard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if snap, ok := shard.limits[k]; ok {
		return snap.limit, nil
	}
	shard.limits[k] = limitSnapshot{limit: candidate, period: period}
	return candidate, nil
}

// SetSuspended flips the administrative suspension flag on a row.
func (s *LedgerStore) SetSuspended(ctx context.Context, identity, provider, period string, suspended bool) error {
	k := rowKey(identity, provider, period)
	shard := s.getShard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	row, ok := shard.rows[k]
	if !ok {
		row = quota.Summary{Identity: identity, Provider: provider, Period: period}
	}
	row.Suspended = suspended
	shard.rows[k] = row
	return nil
}

func (s *LedgerStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup(time.Now())
		case <-s.done:
			return
		}
	}
}

// doCleanup removes ledger rows for periods older than 2 months.
func (s *LedgerStore) doCleanup(now time.Time) {
	cutoff := quota.PeriodKey(now.AddDate(0, -2, 0))
	for _, shard := range s.shards {
		shard.mu.Lock()
		for k, row := range shard.rows {
			if row.Period < cutoff {
				delete(shard.rows, k)
			}
		}
		for k, snap := range shard.limits {
			if snap.period < cutoff {
				delete(shard.limits, k)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *LedgerStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of rows (for testing).
func (s *LedgerStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.rows)
		shard.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)

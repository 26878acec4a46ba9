// Package memory provides in-memory implementations of storage ports.
// All stores are sharded to reduce lock contention and sweep stale
// entries in the background so long-running processes stay bounded.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

// rateLimitShard is a single shard of the rate limit store.
type rateLimitShard struct {
	mu    sync.Mutex
	state map[string]rateLimitEntry
}

type rateLimitEntry struct {
	state  ratelimit.WindowState
	window time.Duration // remembered for sweep decisions
}

// RateLimitStore is a sharded in-memory implementation of
// ports.RateLimitStore. The check for one key runs under that key's
// shard lock, so the read-increment-write is a single atomic section and
// concurrent callers can never over-admit.
type RateLimitStore struct {
	shards    []*rateLimitShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// RateLimitStoreConfig configures the store.
type RateLimitStoreConfig struct {
	NumShards       int           // default 32
	CleanupInterval time.Duration // default 5m
}

// NewRateLimitStore creates a new sharded in-memory rate limit store.
func NewRateLimitStore(cfg RateLimitStoreConfig) *RateLimitStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &RateLimitStore{
		shards:    make([]*rateLimitShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &rateLimitShard{state: make(map[string]rateLimitEntry)}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

func (s *RateLimitStore) getShard(key string) *rateLimitShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Check atomically evaluates the fixed-window limit for a key and
// persists the updated window state.
func (s *RateLimitStore) Check(ctx context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry := shard.state[key]
	result, newState := ratelimit.Check(entry.state, cfg, now)
	shard.state[key] = rateLimitEntry{state: newState, window: cfg.Window}

	return result, nil
}

func (s *RateLimitStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup(time.Now())
		case <-s.done:
			return
		}
	}
}

// doCleanup removes windows older than twice their width.
func (s *RateLimitStore) doCleanup(now time.Time) {
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, entry := range shard.state {
			if ratelimit.Expired(entry.state, entry.window, now) {
				delete(shard.state, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *RateLimitStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of tracked keys (for testing).
func (s *RateLimitStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.state)
		shard.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*RateLimitStore)(nil)

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/usagegate/ports"
)

// CacheStore is the in-process fast tier of the cache. Values are stored
// as immutable byte slices; Get returns a copy so callers can never
// mutate a cached entry in place.
type CacheStore struct {
	mu        sync.RWMutex
	entries   map[string]ports.CacheEntry
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// CacheStoreConfig configures the in-memory cache tier.
type CacheStoreConfig struct {
	CleanupInterval time.Duration // default 1m
}

// NewCacheStore creates a new in-memory cache tier.
func NewCacheStore(cfg CacheStoreConfig) *CacheStore {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	s := &CacheStore{
		entries: make(map[string]ports.CacheEntry),
		done:    make(chan struct{}),
	}
	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()
	return s
}

// Get returns the entry for a key if present and unexpired.
func (s *CacheStore) Get(ctx context.Context, key string, now time.Time) (ports.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return ports.CacheEntry{}, false, nil
	}
	if !now.Before(entry.ExpiresAt) {
		delete(s.entries, key)
		return ports.CacheEntry{}, false, nil
	}

	entry.AccessCount++
	s.entries[key] = entry

	// Copy-on-read: the stored slice stays private to the cache.
	out := entry
	out.Value = append([]byte(nil), entry.Value...)
	return out, true, nil
}

// Set stores an entry, replacing any previous value for its key.
func (s *CacheStore) Set(ctx context.Context, entry ports.CacheEntry) error {
	// Copy-on-write: detach from the caller's slice.
	entry.Value = append([]byte(nil), entry.Value...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	return nil
}

func (s *CacheStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup(time.Now())
		case <-s.done:
			return
		}
	}
}

func (s *CacheStore) doCleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, k)
		}
	}
}

// Close stops the cleanup goroutine.
func (s *CacheStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the number of entries, expired included (for testing).
func (s *CacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ensure interface compliance.
var _ ports.CacheStore = (*CacheStore)(nil)

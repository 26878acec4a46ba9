package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/artpar/usagegate/ports"
)

type cacheRecord struct {
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheStore implements ports.CacheStore on Redis. The entry body is a
// JSON record under one key and the access counter lives under a
// sibling key, both expiring with the entry's TTL.
type CacheStore struct {
	rdb    *redis.Client
	prefix string
}

// NewCacheStore creates a Redis-backed cache store.
func NewCacheStore(rdb *redis.Client) *CacheStore {
	return &CacheStore{rdb: rdb, prefix: "cache:"}
}

// Get returns the entry for a key if present and unexpired.
func (s *CacheStore) Get(ctx context.Context, key string, now time.Time) (ports.CacheEntry, bool, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ports.CacheEntry{}, false, nil
	}
	if err != nil {
		return ports.CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}

	var rec cacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ports.CacheEntry{}, false, fmt.Errorf("cache decode: %w", err)
	}
	// Redis expiry is best effort; enforce the entry's own deadline too.
	if !now.Before(rec.ExpiresAt) {
		return ports.CacheEntry{}, false, nil
	}

	hits, err := s.rdb.Incr(ctx, s.prefix+key+":hits").Result()
	if err != nil {
		return ports.CacheEntry{}, false, fmt.Errorf("cache hit count: %w", err)
	}

	return ports.CacheEntry{
		Key:         key,
		Value:       rec.Value,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		AccessCount: hits,
	}, true, nil
}

// Set stores an entry, replacing any previous value for its key.
func (s *CacheStore) Set(ctx context.Context, entry ports.CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(entry.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("cache set: entry for %q already expired", entry.Key)
	}

	raw, err := json.Marshal(cacheRecord{
		Value:     entry.Value,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, s.prefix+entry.Key, raw, ttl)
	pipe.Set(ctx, s.prefix+entry.Key+":hits", entry.AccessCount, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.CacheStore = (*CacheStore)(nil)

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/usagegate/ports"
)

// CacheStore implements ports.CacheStore using SQLite, serving as the
// durable second tier behind the in-memory one.
type CacheStore struct {
	db *DB
}

// NewCacheStore creates a new SQLite cache store.
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

// Get returns the entry for a key if present and unexpired.
func (s *CacheStore) Get(ctx context.Context, key string, now time.Time) (ports.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cache_entries SET access_count = access_count + 1
		WHERE key = ? AND expires_at > ?
		RETURNING key, value, created_at, expires_at, access_count
	`, key, now.UTC())

	var entry ports.CacheEntry
	err := row.Scan(&entry.Key, &entry.Value, &entry.CreatedAt, &entry.ExpiresAt, &entry.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.CacheEntry{}, false, nil
	}
	if err != nil {
		return ports.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// Set stores an entry, replacing any previous value for its key.
func (s *CacheStore) Set(ctx context.Context, entry ports.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, created_at, expires_at, access_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			access_count = excluded.access_count
	`, entry.Key, entry.Value, entry.CreatedAt.UTC(), entry.ExpiresAt.UTC(), entry.AccessCount)
	return err
}

// Cleanup removes expired entries. Returns the number of rows removed.
func (s *CacheStore) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE expires_at <= ?
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.CacheStore = (*CacheStore)(nil)

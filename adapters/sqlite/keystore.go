package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/ports"
)

// KeyStore implements ports.KeyStore using SQLite.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQLite key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// Get returns all keys matching a lookup prefix.
func (s *KeyStore) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, plan, hash, prefix, name, expires_at, revoked_at, created_at
		FROM api_keys
		WHERE prefix = ?
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	var expiresAt, revokedAt any
	if k.ExpiresAt != nil {
		expiresAt = k.ExpiresAt.UTC()
	}
	if k.RevokedAt != nil {
		revokedAt = k.RevokedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, identity, plan, hash, prefix, name, expires_at, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.Identity, k.Plan, k.Hash, k.Prefix, k.Name, expiresAt, revokedAt, k.CreatedAt.UTC())
	return err
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errclass.ErrUnknownKey
	}
	return nil
}

// ListByIdentity returns all keys for an identity.
func (s *KeyStore) ListByIdentity(ctx context.Context, identity string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, plan, hash, prefix, name, expires_at, revoked_at, created_at
		FROM api_keys
		WHERE identity = ?
		ORDER BY created_at DESC
	`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

func scanKeys(rows *sql.Rows) ([]key.Key, error) {
	var keys []key.Key
	for rows.Next() {
		var k key.Key
		var expiresAt, revokedAt sql.NullTime
		err := rows.Scan(&k.ID, &k.Identity, &k.Plan, &k.Hash, &k.Prefix, &k.Name, &expiresAt, &revokedAt, &k.CreatedAt)
		if err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			k.ExpiresAt = &t
		}
		if revokedAt.Valid {
			t := revokedAt.Time
			k.RevokedAt = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/ports"
)

// KeyStore is an in-memory implementation of ports.KeyStore.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]key.Key // id -> key
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]key.Key)}
}

// Get returns all keys whose lookup prefix matches. Prefix collisions are
// possible, so callers bcrypt-compare against each candidate.
func (s *KeyStore) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []key.Key
	for _, k := range s.keys {
		if k.Prefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

// Create stores a key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
	return nil
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return errclass.ErrUnknownKey
	}
	k.RevokedAt = &at
	s.keys[id] = k
	return nil
}

// ListByIdentity returns all keys owned by an identity.
func (s *KeyStore) ListByIdentity(ctx context.Context, identity string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []key.Key
	for _, k := range s.keys {
		if k.Identity == identity {
			out = append(out, k)
		}
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)

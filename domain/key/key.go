// Package key provides API key value types and pure validation functions.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Key represents an API key (immutable value type). The raw key is shown
// to the caller exactly once at creation time; only the bcrypt hash and a
// lookup prefix are stored.
type Key struct {
	ID        string
	Identity  string // the caller this key authenticates as
	Plan      string // plan tier governing quota limits
	Hash      []byte // bcrypt hash of the full raw key
	Prefix    string // first 12 chars for store lookup
	Name      string
	ExpiresAt *time.Time // nil = never expires
	RevokedAt *time.Time // nil = not revoked
	CreatedAt time.Time
}

// ValidationResult represents the outcome of key validation (value type).
type ValidationResult struct {
	Valid  bool
	Key    Key    // populated only if Valid=true
	Reason string // populated only if Valid=false
}

// Reasons for validation failure.
const (
	ReasonNotFound  = "key_not_found"
	ReasonExpired   = "key_expired"
	ReasonRevoked   = "key_revoked"
	ReasonBadFormat = "invalid_format"
)

// PrefixLen is how many leading raw-key characters index the store.
const PrefixLen = 12

// Generate creates a new API key with the given textual prefix (e.g. "ug_").
// Returns the raw key (to give to the caller once) and the Key to store.
func Generate(textPrefix, identity, plan, name string, now time.Time) (rawKey string, k Key, err error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", Key{}, fmt.Errorf("crypto/rand: %w", err)
	}
	rawKey = textPrefix + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", Key{}, fmt.Errorf("bcrypt: %w", err)
	}

	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return "", Key{}, fmt.Errorf("crypto/rand: %w", err)
	}

	k = Key{
		ID:        "key_" + hex.EncodeToString(idBytes),
		Identity:  identity,
		Plan:      plan,
		Hash:      hash,
		Prefix:    rawKey[:PrefixLen],
		Name:      name,
		CreatedAt: now.UTC(),
	}
	return rawKey, k, nil
}

// Matches reports whether a raw key matches this stored key's hash.
func (k Key) Matches(rawKey string) bool {
	return bcrypt.CompareHashAndPassword(k.Hash, []byte(rawKey)) == nil
}

// Validate checks if a key is usable at the given time.
// This is a PURE function.
func Validate(k Key, now time.Time) ValidationResult {
	if k.RevokedAt != nil {
		return ValidationResult{Valid: false, Reason: ReasonRevoked}
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return ValidationResult{Valid: false, Reason: ReasonExpired}
	}
	return ValidationResult{Valid: true, Key: k}
}

// ValidateFormat checks if a raw API key has a plausible shape and returns
// the lookup prefix. This is a PURE function.
func ValidateFormat(rawKey, textPrefix string) (prefix string, valid bool) {
	if !strings.HasPrefix(rawKey, textPrefix) {
		return "", false
	}
	if len(rawKey) < len(textPrefix)+64 {
		return "", false
	}
	return rawKey[:PrefixLen], true
}

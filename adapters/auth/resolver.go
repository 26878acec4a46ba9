// Package auth resolves request credentials to identities.
package auth

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/ports"
)

// Resolver implements ports.IdentityResolver backed by a KeyStore.
// Callers presenting no key resolve to their remote IP on the default
// plan; callers presenting a bad key get an error, never a fallback.
type Resolver struct {
	keys        ports.KeyStore
	clock       ports.Clock
	log         zerolog.Logger
	keyPrefix   string // textual key prefix, e.g. "ug_"
	defaultPlan string
}

// NewResolver creates a key-based identity resolver.
func NewResolver(keys ports.KeyStore, clock ports.Clock, log zerolog.Logger, keyPrefix, defaultPlan string) *Resolver {
	return &Resolver{
		keys:        keys,
		clock:       clock,
		log:         log.With().Str("component", "auth").Logger(),
		keyPrefix:   keyPrefix,
		defaultPlan: defaultPlan,
	}
}

// Resolve validates the raw key against stored hashes. An empty raw key
// is the anonymous path and always succeeds.
func (r *Resolver) Resolve(ctx context.Context, rawKey, remoteIP string) (ports.Identity, error) {
	if rawKey == "" {
		return ports.Identity{ID: remoteIP, Plan: r.defaultPlan, Authenticated: false}, nil
	}

	prefix, ok := key.ValidateFormat(rawKey, r.keyPrefix)
	if !ok {
		return ports.Identity{}, fmt.Errorf("%w: malformed key", errclass.ErrUnknownKey)
	}

	candidates, err := r.keys.Get(ctx, prefix)
	if err != nil {
		return ports.Identity{}, fmt.Errorf("key lookup: %w", err)
	}

	for _, k := range candidates {
		if !k.Matches(rawKey) {
			continue
		}
		result := key.Validate(k, r.clock.Now())
		if !result.Valid {
			r.log.Warn().Str("key_id", k.ID).Str("reason", result.Reason).Msg("rejected key")
			return ports.Identity{}, fmt.Errorf("%w: %s", errclass.ErrUnknownKey, result.Reason)
		}
		return ports.Identity{ID: k.Identity, Plan: k.Plan, Authenticated: true}, nil
	}

	return ports.Identity{}, fmt.Errorf("%w: no matching key", errclass.ErrUnknownKey)
}

// Ensure interface compliance.
var _ ports.IdentityResolver = (*Resolver)(nil)

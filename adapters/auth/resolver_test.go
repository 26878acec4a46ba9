package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/clock"
	"github.com/artpar/usagegate/adapters/memory"
	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/key"
)

func newTestResolver(t *testing.T) (*Resolver, *memory.KeyStore, *clock.Fake) {
	t.Helper()
	keys := memory.NewKeyStore()
	clk := clock.NewFake(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	r := NewResolver(keys, clk, zerolog.Nop(), "ug_", "free")
	return r, keys, clk
}

func TestResolveAnonymous(t *testing.T) {
	r, _, _ := newTestResolver(t)

	id, err := r.Resolve(context.Background(), "", "203.0.113.7")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.ID != "203.0.113.7" || id.Plan != "free" || id.Authenticated {
		t.Errorf("Resolve() = %+v, want anonymous IP identity on default plan", id)
	}
}

func TestResolveValidKey(t *testing.T) {
	r, keys, clk := newTestResolver(t)
	ctx := context.Background()

	raw, k, err := key.Generate("ug_", "user-1", "pro", "ci", clk.Now())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	keys.Create(ctx, k)

	id, err := r.Resolve(ctx, raw, "203.0.113.7")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.ID != "user-1" || id.Plan != "pro" || !id.Authenticated {
		t.Errorf("Resolve() = %+v", id)
	}
}

func TestResolveRejections(t *testing.T) {
	r, keys, clk := newTestResolver(t)
	ctx := context.Background()

	raw, k, _ := key.Generate("ug_", "user-1", "pro", "ci", clk.Now())
	keys.Create(ctx, k)

	revokedRaw, revoked, _ := key.Generate("ug_", "user-2", "pro", "old", clk.Now())
	keys.Create(ctx, revoked)
	keys.Revoke(ctx, revoked.ID, clk.Now())

	tests := []struct {
		name   string
		rawKey string
	}{
		{"malformed key", "ug_tooshort"},
		{"wrong scheme", "sk-" + raw},
		{"unknown key", "ug_0000000000000000000000000000000000000000000000000000000000000000"},
		{"revoked key", revokedRaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.rawKey, "203.0.113.7")
			if !errors.Is(err, errclass.ErrUnknownKey) {
				t.Errorf("Resolve() error = %v, want ErrUnknownKey", err)
			}
		})
	}
}

func TestResolveExpiredKey(t *testing.T) {
	r, keys, clk := newTestResolver(t)
	ctx := context.Background()

	raw, k, _ := key.Generate("ug_", "user-1", "pro", "ci", clk.Now())
	expiry := clk.Now().Add(time.Hour)
	k.ExpiresAt = &expiry
	keys.Create(ctx, k)

	if _, err := r.Resolve(ctx, raw, ""); err != nil {
		t.Fatalf("Resolve() before expiry error = %v", err)
	}

	clk.Advance(2 * time.Hour)
	if _, err := r.Resolve(ctx, raw, ""); !errors.Is(err, errclass.ErrUnknownKey) {
		t.Errorf("Resolve() after expiry error = %v, want ErrUnknownKey", err)
	}
}

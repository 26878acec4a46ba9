// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Identity Ports
// -----------------------------------------------------------------------------

// Identity describes the resolved caller of a request.
type Identity struct {
	ID            string // user id for authenticated callers, client IP otherwise
	Plan          string // plan tier governing limits
	Authenticated bool
}

// IdentityResolver resolves a caller from request credentials.
// Implementations must never return an empty Identity.ID: anonymous
// callers resolve to their remote IP on the default plan.
type IdentityResolver interface {
	Resolve(ctx context.Context, rawKey, remoteIP string) (Identity, error)
}

// KeyStore persists API keys.
type KeyStore interface {
	// Get retrieves keys matching a lookup prefix (for validation).
	Get(ctx context.Context, prefix string) ([]key.Key, error)

	// Create stores a new key.
	Create(ctx context.Context, k key.Key) error

	// Revoke marks a key as revoked.
	Revoke(ctx context.Context, id string, at time.Time) error

	// ListByIdentity returns all keys for an identity.
	ListByIdentity(ctx context.Context, identity string) ([]key.Key, error)
}

// -----------------------------------------------------------------------------
// Governance Ports
// -----------------------------------------------------------------------------

// RateLimitStore checks and updates rate limit state. Check must be
// atomic per key: the read-increment-write for one key is serialized so
// concurrent callers can never over-admit past the limit.
type RateLimitStore interface {
	Check(ctx context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error)
}

// LedgerStore persists quota ledger rows, one per
// (identity, provider, billing period).
type LedgerStore interface {
	// Get retrieves the current row. A missing row is not an error: a
	// zero-total summary for the requested coordinates is returned.
	Get(ctx context.Context, identity, provider, period string) (quota.Summary, error)

	// Increment atomically applies a delta and returns the updated row,
	// creating the row lazily on first use. Increments for one row are
	// serialized; different rows proceed in parallel.
	Increment(ctx context.Context, identity, provider, period string, d quota.Delta) (quota.Summary, error)

	// EffectiveLimit returns the limit snapshot governing a row,
	// recording candidate as the snapshot on the row's first use in the
	// period. The snapshot is immutable for the rest of the period, so
	// plan changes only take effect at the next rollover.
	EffectiveLimit(ctx context.Context, identity, provider, period string, candidate quota.Limit) (quota.Limit, error)

	// SetSuspended flips the administrative suspension flag on a row.
	SetSuspended(ctx context.Context, identity, provider, period string, suspended bool) error
}

// LimitResolver resolves the quota limit for a (plan, provider) pair.
// Plans live in configuration and hot-reload with it; an unknown pair
// resolves to the zero Limit (unlimited). The resolved value only seeds
// the per-period snapshot held by the LedgerStore.
type LimitResolver interface {
	Resolve(plan, provider string) quota.Limit
}

// -----------------------------------------------------------------------------
// Usage Ports
// -----------------------------------------------------------------------------

// UsageStore persists usage events and serves aggregations.
// Events are append-only: stores must never update or delete them.
type UsageStore interface {
	// RecordBatch stores multiple usage events.
	RecordBatch(ctx context.Context, events []usage.Event) error

	// GetSummary returns aggregated usage for an identity and period
	// across all providers.
	GetSummary(ctx context.Context, identity, period string) (usage.Summary, error)

	// GetProviderSummary returns aggregated usage for one provider.
	GetProviderSummary(ctx context.Context, identity, provider, period string) (usage.Summary, error)

	// GetRecent returns the most recent events for an identity.
	GetRecent(ctx context.Context, identity string, limit int) ([]usage.Event, error)
}

// UsageRecorder accepts usage events for async processing.
type UsageRecorder interface {
	// Record queues a usage event for processing. Non-blocking.
	Record(event usage.Event)

	// Flush forces immediate processing of queued events.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining events.
	Close() error
}

// -----------------------------------------------------------------------------
// Cache Ports
// -----------------------------------------------------------------------------

// CacheEntry is a stored cache value. Entries are immutable once written;
// readers receive copies and never mutate in place.
type CacheEntry struct {
	Key         string
	Value       []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessCount int64
}

// CacheStore is one tier of the cache. Implementations must never return
// an entry past its ExpiresAt as a hit.
type CacheStore interface {
	// Get returns the entry for a key if present and unexpired, bumping
	// its access count. The bool reports whether it was a hit.
	Get(ctx context.Context, key string, now time.Time) (CacheEntry, bool, error)

	// Set stores an entry, replacing any previous value for its key.
	Set(ctx context.Context, entry CacheEntry) error
}

// -----------------------------------------------------------------------------
// Alert Ports
// -----------------------------------------------------------------------------

// AlertKind distinguishes what produced an alert.
type AlertKind string

const (
	AlertKindError     AlertKind = "error"     // HIGH/CRITICAL classified error
	AlertKindThreshold AlertKind = "threshold" // quota status crossing
)

// Alert is a persisted notification record.
type Alert struct {
	ID        string
	Kind      AlertKind
	Identity  string
	Provider  string
	Severity  errclass.Severity
	Status    quota.Status // for threshold alerts
	Message   string
	CreatedAt time.Time
}

// AlertStore persists alert records.
type AlertStore interface {
	Create(ctx context.Context, a Alert) error
	ListRecent(ctx context.Context, limit int) ([]Alert, error)
}

// AlertSink delivers alerts out of process (webhook, log, pager).
// Delivery is fire-and-forget: failures are logged by callers, never
// propagated.
type AlertSink interface {
	Notify(ctx context.Context, a Alert) error
}

// -----------------------------------------------------------------------------
// Provider Ports
// -----------------------------------------------------------------------------

// ProviderRequest is the opaque payload forwarded to a provider client.
type ProviderRequest struct {
	Endpoint string
	Payload  []byte
	Headers  map[string]string
}

// ProviderResult is what a provider call yields on success.
type ProviderResult struct {
	StatusCode int
	Body       []byte
	TokensIn   int64
	TokensOut  int64
	CostUSD    float64
}

// ProviderClient invokes one external metered provider. This layer never
// constructs provider-specific payloads; it forwards, meters, and prices.
type ProviderClient interface {
	Name() string
	Invoke(ctx context.Context, req ProviderRequest) (ProviderResult, error)
}

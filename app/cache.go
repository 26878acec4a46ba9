package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/ports"
)

// CachePolicy governs how cached provider results interact with usage
// accounting.
type CachePolicy struct {
	// CountAsUsage records a zero-cost usage event for cache hits, so
	// billing sees every governed call. When false, hits are invisible
	// to the ledger.
	CountAsUsage bool
	// DefaultTTL applies when the caller requests no explicit TTL.
	DefaultTTL time.Duration
}

// TieredCache chains a fast in-memory tier with an optional durable
// tier. Lookups promote durable hits into the fast tier; computes are
// deduplicated so concurrent misses for one key invoke the provider
// once.
type TieredCache struct {
	fast    ports.CacheStore
	durable ports.CacheStore // may be nil
	clock   ports.Clock
	policy  CachePolicy
	log     zerolog.Logger
	metrics *metrics.Collector
	group   singleflight.Group
}

// NewTieredCache creates a tiered cache. durable may be nil for a
// single-tier setup.
func NewTieredCache(fast, durable ports.CacheStore, clock ports.Clock, policy CachePolicy, m *metrics.Collector, log zerolog.Logger) *TieredCache {
	if policy.DefaultTTL <= 0 {
		policy.DefaultTTL = time.Hour
	}
	return &TieredCache{
		fast:    fast,
		durable: durable,
		clock:   clock,
		policy:  policy,
		log:     log.With().Str("component", "cache").Logger(),
		metrics: m,
	}
}

// Policy returns the configured cache policy.
func (c *TieredCache) Policy() CachePolicy {
	return c.policy
}

// ComputeFunc produces the value for a cache miss. Returning cacheable
// false hands the value back to the caller without storing it (used for
// responses that must not be replayed, like provider failures).
type ComputeFunc func(ctx context.Context) (value []byte, cacheable bool, err error)

// GetOrCompute returns the cached value for key, computing and storing
// it on a miss. The bool reports whether the value came from cache.
func (c *TieredCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, bool, error) {
	if ttl <= 0 {
		ttl = c.policy.DefaultTTL
	}
	now := c.clock.Now()

	if entry, ok := c.lookup(ctx, key, now); ok {
		return entry.Value, true, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	// Deduplicate concurrent computes for the same key.
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A peer may have filled the cache while this call waited.
		if entry, ok := c.lookup(ctx, key, c.clock.Now()); ok {
			return flightResult{value: entry.Value, hit: true}, nil
		}

		value, cacheable, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.store(ctx, key, value, ttl)
		}
		return flightResult{value: value}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(flightResult)
	return res.value, res.hit, nil
}

// flightResult carries the value and its cache provenance out of the
// singleflight group, so a caller served by a peer's fill still sees a
// hit.
type flightResult struct {
	value []byte
	hit   bool
}

// lookup checks the fast tier then the durable tier, promoting durable
// hits. Tier failures degrade to a miss; the cache never takes down the
// request path.
func (c *TieredCache) lookup(ctx context.Context, key string, now time.Time) (ports.CacheEntry, bool) {
	entry, ok, err := c.fast.Get(ctx, key, now)
	if err != nil {
		c.log.Warn().Err(err).Msg("fast tier read failed")
	} else if ok {
		if c.metrics != nil {
			c.metrics.CacheHits.WithLabelValues("memory").Inc()
		}
		return entry, true
	}

	if c.durable == nil {
		return ports.CacheEntry{}, false
	}
	entry, ok, err = c.durable.Get(ctx, key, now)
	if err != nil {
		c.log.Warn().Err(err).Msg("durable tier read failed")
		return ports.CacheEntry{}, false
	}
	if !ok {
		return ports.CacheEntry{}, false
	}
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues("durable").Inc()
	}
	if err := c.fast.Set(ctx, entry); err != nil {
		c.log.Warn().Err(err).Msg("fast tier promote failed")
	}
	return entry, true
}

func (c *TieredCache) store(ctx context.Context, key string, value []byte, ttl time.Duration) {
	now := c.clock.Now()
	entry := ports.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := c.fast.Set(ctx, entry); err != nil {
		c.log.Warn().Err(err).Msg("fast tier write failed")
	}
	if c.durable != nil {
		if err := c.durable.Set(ctx, entry); err != nil {
			c.log.Warn().Err(err).Msg("durable tier write failed")
		}
	}
}

// String implements fmt.Stringer for debug logging.
func (c *TieredCache) String() string {
	tiers := 1
	if c.durable != nil {
		tiers = 2
	}
	return fmt.Sprintf("tiered cache (%d tiers, default ttl %s)", tiers, c.policy.DefaultTTL)
}

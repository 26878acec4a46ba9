package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/domain/cachekey"
	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

// RateResolver resolves the rate limit configuration for a plan. A zero
// Limit disables rate limiting for that plan.
type RateResolver interface {
	RateLimit(plan string) ratelimit.Config
}

// Governor runs the per-request governance sequence: rate check, quota
// check, provider call, usage recording. Each admitted request moves
// through those stages in order; a rejection at any stage stops it.
type Governor struct {
	rates     ports.RateLimitStore
	rateCfg   RateResolver
	ledger    *LedgerService
	recorder  ports.UsageRecorder
	cache     *TieredCache // may be nil
	providers map[string]ports.ProviderClient
	clock     ports.Clock
	ids       ports.IDGenerator
	log       zerolog.Logger
	metrics   *metrics.Collector
}

// NewGovernor creates a governor service.
func NewGovernor(rates ports.RateLimitStore, rateCfg RateResolver, ledger *LedgerService, recorder ports.UsageRecorder, cache *TieredCache, providers map[string]ports.ProviderClient, clock ports.Clock, ids ports.IDGenerator, m *metrics.Collector, log zerolog.Logger) *Governor {
	return &Governor{
		rates:     rates,
		rateCfg:   rateCfg,
		ledger:    ledger,
		recorder:  recorder,
		cache:     cache,
		providers: providers,
		clock:     clock,
		ids:       ids,
		log:       log.With().Str("component", "governor").Logger(),
		metrics:   m,
	}
}

// Admit runs the admission gates for one request. The returned rate
// result feeds the X-RateLimit response headers even on rejection.
//
// A rate limit store failure fails open: availability of the governed
// API wins over strict enforcement, and the incident is logged.
func (g *Governor) Admit(ctx context.Context, identity ports.Identity, provider string) (ratelimit.Result, error) {
	result := ratelimit.Result{Allowed: true}

	cfg := g.rateCfg.RateLimit(identity.Plan)
	if cfg.Limit > 0 {
		var err error
		result, err = g.rates.Check(ctx, identity.ID+":"+provider, cfg, g.clock.Now())
		if err != nil {
			g.log.Warn().Err(err).
				Str("identity", identity.ID).
				Str("provider", provider).
				Msg("rate limit store failed, admitting")
			result = ratelimit.Result{Allowed: true}
		}
	}

	if !result.Allowed {
		if g.metrics != nil {
			g.metrics.RateLimitHits.WithLabelValues(identity.Plan, provider).Inc()
		}
		return result, fmt.Errorf("%w: retry in %s", errclass.ErrRateLimited, result.RetryAfter)
	}

	if err := g.ledger.Check(ctx, identity, provider); err != nil {
		if g.metrics != nil && errors.Is(err, errclass.ErrQuotaExceeded) {
			g.metrics.QuotaBlocks.WithLabelValues(identity.Plan, provider).Inc()
		}
		return result, err
	}

	return result, nil
}

// InvokeProvider forwards a request to a configured provider under the
// caller's timeout. The returned bool reports whether the response was
// served from cache.
func (g *Governor) InvokeProvider(ctx context.Context, identity ports.Identity, provider string, req ports.ProviderRequest, timeout time.Duration) (ports.ProviderResult, bool, error) {
	client, ok := g.providers[provider]
	if !ok {
		return ports.ProviderResult{}, false, fmt.Errorf("%w: %s", errclass.ErrUnknownProvider, provider)
	}

	if g.cache == nil {
		result, err := g.call(ctx, identity, provider, client, req, timeout)
		return result, false, err
	}

	key := cachekey.Hash(provider, req.Endpoint, req.Payload)
	value, cached, err := g.cache.GetOrCompute(ctx, key, 0, func(ctx context.Context) ([]byte, bool, error) {
		result, err := g.call(ctx, identity, provider, client, req, timeout)
		if err != nil {
			return nil, false, err
		}
		encoded, merr := json.Marshal(result)
		if merr != nil {
			return nil, false, fmt.Errorf("encode provider result: %w", merr)
		}
		// Only replayable successes go into the cache.
		cacheable := result.StatusCode >= 200 && result.StatusCode < 300
		return encoded, cacheable, nil
	})
	if err != nil {
		return ports.ProviderResult{}, false, err
	}

	var result ports.ProviderResult
	if err := json.Unmarshal(value, &result); err != nil {
		return ports.ProviderResult{}, false, fmt.Errorf("decode provider result: %w", err)
	}

	if cached && g.cache.Policy().CountAsUsage {
		g.recordCacheHit(ctx, identity, provider, req.Endpoint, result.StatusCode)
	}
	return result, cached, nil
}

// call performs one metered provider invocation. Every attempt yields
// exactly one usage event, including timeouts and transport failures,
// which carry zero tokens and cost.
func (g *Governor) call(ctx context.Context, identity ports.Identity, provider string, client ports.ProviderClient, req ports.ProviderRequest, timeout time.Duration) (ports.ProviderResult, error) {
	start := g.clock.Now()
	wallStart := time.Now()

	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := client.Invoke(cctx, req)
	latencyMs := time.Since(wallStart).Milliseconds()

	statusCode := result.StatusCode
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		statusCode = usage.StatusTimeout
	default:
		statusCode = usage.StatusClientError
	}

	event := usage.Event{
		ID:         g.ids.New(),
		Identity:   identity.ID,
		Provider:   provider,
		Endpoint:   req.Endpoint,
		TokensIn:   result.TokensIn,
		TokensOut:  result.TokensOut,
		CostUSD:    result.CostUSD,
		LatencyMs:  latencyMs,
		StatusCode: statusCode,
		Period:     quota.PeriodKey(start),
		Timestamp:  start,
	}
	g.recorder.Record(event)

	delta := quota.Delta{Calls: 1, Tokens: event.Tokens(), CostUSD: event.CostUSD}
	if _, lerr := g.ledger.Record(ctx, identity, provider, delta); lerr != nil {
		g.log.Error().Err(lerr).
			Str("identity", identity.ID).
			Str("provider", provider).
			Msg("usage tracking failed after provider call")
	}

	if g.metrics != nil {
		g.metrics.ProviderDuration.WithLabelValues(provider, fmt.Sprintf("%d", statusCode)).
			Observe(time.Since(wallStart).Seconds())
		g.metrics.UsageTokens.WithLabelValues(provider, "in").Add(float64(result.TokensIn))
		g.metrics.UsageTokens.WithLabelValues(provider, "out").Add(float64(result.TokensOut))
		g.metrics.UsageCostUSD.WithLabelValues(provider).Add(result.CostUSD)
		if err != nil {
			g.metrics.ProviderErrors.WithLabelValues(provider, errorType(err)).Inc()
		}
	}

	if err != nil {
		return ports.ProviderResult{}, fmt.Errorf("provider %s: %w", provider, err)
	}
	return result, nil
}

// recordCacheHit emits a zero-cost event so billing sees every governed
// call when the cache policy counts hits as usage.
func (g *Governor) recordCacheHit(ctx context.Context, identity ports.Identity, provider, endpoint string, statusCode int) {
	now := g.clock.Now()
	g.recorder.Record(usage.Event{
		ID:         g.ids.New(),
		Identity:   identity.ID,
		Provider:   provider,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Period:     quota.PeriodKey(now),
		Timestamp:  now,
	})
	if _, err := g.ledger.Record(ctx, identity, provider, quota.Delta{Calls: 1}); err != nil {
		g.log.Error().Err(err).Str("identity", identity.ID).Msg("cache hit tracking failed")
	}
}

func errorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "transport"
}

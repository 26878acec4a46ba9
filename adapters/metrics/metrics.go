// Package metrics provides Prometheus metrics collection for UsageGate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for UsageGate.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Governance metrics
	RateLimitHits   *prometheus.CounterVec
	QuotaBlocks     *prometheus.CounterVec
	QuotaPercent    *prometheus.GaugeVec
	UsageTokens     *prometheus.CounterVec
	UsageCostUSD    *prometheus.CounterVec
	RecorderDropped prometheus.Counter
	RecorderQueued  prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses prometheus.Counter

	// Provider metrics
	ProviderDuration *prometheus.HistogramVec
	ProviderErrors   *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "path", "status", "plan"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "usagegate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "usagegate",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),

		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "rate_limit_hits_total",
				Help:      "Total number of requests blocked by rate limiting",
			},
			[]string{"plan", "provider"},
		),
		QuotaBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "quota_blocks_total",
				Help:      "Total number of requests blocked by quota enforcement",
			},
			[]string{"plan", "provider"},
		),
		QuotaPercent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "usagegate",
				Name:      "quota_percent_used",
				Help:      "Current quota consumption as a percentage of the limit",
			},
			[]string{"identity", "provider"},
		),
		UsageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "usage_tokens_total",
				Help:      "Total tokens metered per provider",
			},
			[]string{"provider", "direction"},
		),
		UsageCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "usage_cost_usd_total",
				Help:      "Total metered cost in USD per provider",
			},
			[]string{"provider"},
		),
		RecorderDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "recorder_dropped_events_total",
				Help:      "Usage events dropped because the recorder queue was full",
			},
		),
		RecorderQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "usagegate",
				Name:      "recorder_queued_events",
				Help:      "Usage events currently buffered by the recorder",
			},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "cache_hits_total",
				Help:      "Total cache hits per tier",
			},
			[]string{"tier"},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "cache_misses_total",
				Help:      "Total cache misses across all tiers",
			},
		),

		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "usagegate",
				Name:      "provider_duration_seconds",
				Help:      "Provider call duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "status"},
		),
		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "provider_errors_total",
				Help:      "Total number of provider call failures",
			},
			[]string{"provider", "type"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "errors_total",
				Help:      "Total classified errors by type and severity",
			},
			[]string{"type", "severity"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "usagegate",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

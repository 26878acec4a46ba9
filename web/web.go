// Package web provides the HTTP API: the governed provider invocation
// endpoint plus the admin surface for usage, quota, plan, key, and
// alert management.
package web

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/app"
	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

// PlanSource lists the configured plans and their per-provider limits.
type PlanSource interface {
	Plans() map[string]map[string]quota.Limit
}

// Handler provides the public and admin HTTP endpoints.
type Handler struct {
	resolver ports.IdentityResolver
	governor *app.Governor
	ledger   *app.LedgerService
	errors   *app.ErrorHandler
	usage    ports.UsageStore
	alerts   ports.AlertStore
	keys     ports.KeyStore
	plans    PlanSource
	clock    ports.Clock
	metrics  *metrics.Collector
	logger   zerolog.Logger

	keyPrefix      string
	defaultPlan    string
	adminToken     string
	invokeTimeout  time.Duration
	metricsHandler http.Handler
}

// Deps contains dependencies for the handler.
type Deps struct {
	Resolver ports.IdentityResolver
	Governor *app.Governor
	Ledger   *app.LedgerService
	Errors   *app.ErrorHandler
	Usage    ports.UsageStore
	Alerts   ports.AlertStore
	Keys     ports.KeyStore
	Plans    PlanSource
	Clock    ports.Clock
	Metrics  *metrics.Collector
	Logger   zerolog.Logger

	KeyPrefix     string
	DefaultPlan   string
	AdminToken    string        // empty disables admin auth (dev mode)
	InvokeTimeout time.Duration // per-call provider timeout, 0 uses client default

	// MetricsHandler serves GET /metrics. Defaults to the global
	// prometheus handler when nil.
	MetricsHandler http.Handler
}

// NewHandler creates a new HTTP handler.
func NewHandler(deps Deps) *Handler {
	mh := deps.MetricsHandler
	if mh == nil {
		mh = promhttp.Handler()
	}
	return &Handler{
		resolver:       deps.Resolver,
		governor:       deps.Governor,
		ledger:         deps.Ledger,
		errors:         deps.Errors,
		usage:          deps.Usage,
		alerts:         deps.Alerts,
		keys:           deps.Keys,
		plans:          deps.Plans,
		clock:          deps.Clock,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		keyPrefix:      deps.KeyPrefix,
		defaultPlan:    deps.DefaultPlan,
		adminToken:     deps.AdminToken,
		invokeTimeout:  deps.InvokeTimeout,
		metricsHandler: mh,
	}
}

// Router returns the API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	// Operational endpoints (no auth, not governed)
	r.Get("/health", h.Health)
	r.Get("/health/live", h.Health)
	r.Get("/version", Version)
	r.Handle("/metrics", h.metricsHandler)

	// Governed invocation
	r.Post("/v1/providers/{provider}", h.InvokeProvider)
	r.Post("/v1/providers/{provider}/*", h.InvokeProvider)

	// Admin API
	r.Group(func(r chi.Router) {
		r.Use(h.adminAuth)

		r.Get("/v1/usage/{identity}", h.GetUsage)
		r.Get("/v1/usage/{identity}/events", h.GetRecentEvents)

		r.Get("/v1/quota/{identity}/{provider}", h.GetQuota)
		r.Post("/v1/quota/{identity}/{provider}/suspend", h.Suspend)
		r.Post("/v1/quota/{identity}/{provider}/resume", h.Resume)

		r.Get("/v1/plans", h.ListPlans)
		r.Get("/v1/alerts", h.ListAlerts)

		r.Get("/v1/keys", h.ListKeys)
		r.Post("/v1/keys", h.CreateKey)
		r.Delete("/v1/keys/{id}", h.RevokeKey)
	})

	return r
}

// planLabelKey keys the per-request plan holder in the context.
type planLabelKey struct{}

// planLabel receives the resolved plan from the handler so the metrics
// middleware, which runs outside identity resolution, can label by it.
type planLabel struct {
	plan string
}

// setPlanLabel records the resolved plan for the request's metrics.
func setPlanLabel(ctx context.Context, plan string) {
	if pl, ok := ctx.Value(planLabelKey{}).(*planLabel); ok {
		pl.plan = plan
	}
}

// instrument records request metrics and the access log line.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		h.metrics.RequestsInFlight.Inc()
		defer h.metrics.RequestsInFlight.Dec()

		pl := &planLabel{}
		r = r.WithContext(context.WithValue(r.Context(), planLabelKey{}, pl))

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// The route pattern keeps label cardinality bounded.
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(ww.Status())
		h.metrics.RequestsTotal.WithLabelValues(r.Method, path, status, pl.plan).Inc()
		h.metrics.RequestDuration.WithLabelValues(r.Method, path, status).
			Observe(time.Since(start).Seconds())
	})
}

// adminAuth requires the configured admin token on admin endpoints.
func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token != h.adminToken {
			writeErrorBody(w, http.StatusUnauthorized, errclass.Classified{
				Kind:      errclass.KindAuthError,
				Severity:  errclass.SeverityLow,
				Message:   "admin token required",
				Timestamp: h.clock.Now(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Version identifies the service.
func Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "usagegate",
		"version": "dev",
	})
}

// fail classifies the error, logs and alerts on it, and writes the
// JSON error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, identity, provider string, extra map[string]any) {
	c := h.errors.Handle(r.Context(), err, identity, provider, extra)
	writeErrorBody(w, errclass.HTTPStatus(c.Kind), c)
}

type errorDetail struct {
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Severity    string         `json:"severity"`
	Timestamp   time.Time      `json:"timestamp"`
	UserMessage string         `json:"user_message"`
	Context     map[string]any `json:"context,omitempty"`
}

type errorBody struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

func writeErrorBody(w http.ResponseWriter, status int, c errclass.Classified) {
	writeJSON(w, status, errorBody{
		Success: false,
		Error: errorDetail{
			Type:        string(c.Kind),
			Message:     c.Message,
			Severity:    string(c.Severity),
			Timestamp:   c.Timestamp,
			UserMessage: c.UserMessage(),
			Context:     c.Context,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// setRateHeaders exposes rate limit state to the caller. Retry-After is
// rounded up so callers never retry inside the current window.
func setRateHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
	if !result.Allowed && result.RetryAfter > 0 {
		secs := int64(math.Ceil(result.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
}

// extractAPIKey extracts the API key from the request.
// Supports: Authorization header (Bearer token), X-API-Key header, api_key query param.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}

// extractIP extracts the client IP from the request.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

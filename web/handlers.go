package web

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/domain/quota"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

// maxRequestBody caps the payload forwarded to providers.
const maxRequestBody = 10 << 20 // 10MB

// InvokeProvider authenticates, admits, and forwards a metered call.
func (h *Handler) InvokeProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")
	endpoint := chi.URLParam(r, "*")

	identity, err := h.resolver.Resolve(ctx, extractAPIKey(r), extractIP(r))
	if err != nil {
		if h.metrics != nil {
			h.metrics.AuthFailures.WithLabelValues("invalid_key").Inc()
		}
		h.fail(w, r, err, "", provider, nil)
		return
	}
	setPlanLabel(ctx, identity.Plan)

	result, err := h.governor.Admit(ctx, identity, provider)
	setRateHeaders(w, result)
	if err != nil {
		h.fail(w, r, err, identity.ID, provider, nil)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		h.fail(w, r, err, identity.ID, provider, map[string]any{"stage": "read_body"})
		return
	}

	req := ports.ProviderRequest{
		Endpoint: endpoint,
		Payload:  payload,
		Headers:  forwardHeaders(r),
	}

	res, cached, err := h.governor.InvokeProvider(ctx, identity, provider, req, h.invokeTimeout)
	if err != nil {
		h.fail(w, r, err, identity.ID, provider, map[string]any{"endpoint": endpoint})
		return
	}

	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.StatusCode)
	if len(res.Body) > 0 {
		if _, err := w.Write(res.Body); err != nil {
			h.logger.Error().Err(err).Msg("failed to write provider response")
		}
	}
}

// forwardHeaders keeps only headers safe to pass through to providers.
// Credentials for the provider itself are attached by the client.
func forwardHeaders(r *http.Request) map[string]string {
	out := make(map[string]string)
	for _, name := range []string{"Content-Type", "Accept", "Accept-Language"} {
		if v := r.Header.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

type usageResponse struct {
	Identity     string  `json:"identity"`
	Provider     string  `json:"provider"`
	Period       string  `json:"period"`
	Calls        int64   `json:"calls"`
	TokensIn     int64   `json:"tokens_in"`
	TokensOut    int64   `json:"tokens_out"`
	CostUSD      float64 `json:"cost_usd"`
	ErrorCount   int64   `json:"error_count"`
	AvgLatencyMs int64   `json:"avg_latency_ms"`
}

func toUsageResponse(s usage.Summary) usageResponse {
	return usageResponse{
		Identity:     s.Identity,
		Provider:     s.Provider,
		Period:       s.Period,
		Calls:        s.Calls,
		TokensIn:     s.TokensIn,
		TokensOut:    s.TokensOut,
		CostUSD:      s.CostUSD,
		ErrorCount:   s.ErrorCount,
		AvgLatencyMs: s.AvgLatencyMs,
	}
}

// GetUsage returns an aggregated usage summary for an identity.
// Query params: period (defaults to the current one), provider
// (defaults to all providers).
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	period := r.URL.Query().Get("period")
	if period == "" {
		period = quota.PeriodKey(h.clock.Now())
	}

	var (
		summary usage.Summary
		err     error
	)
	if provider := r.URL.Query().Get("provider"); provider != "" {
		summary, err = h.usage.GetProviderSummary(r.Context(), identity, provider, period)
	} else {
		summary, err = h.usage.GetSummary(r.Context(), identity, period)
	}
	if err != nil {
		h.fail(w, r, err, identity, "", nil)
		return
	}

	writeJSON(w, http.StatusOK, toUsageResponse(summary))
}

type eventResponse struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Endpoint   string    `json:"endpoint,omitempty"`
	TokensIn   int64     `json:"tokens_in"`
	TokensOut  int64     `json:"tokens_out"`
	CostUSD    float64   `json:"cost_usd"`
	LatencyMs  int64     `json:"latency_ms"`
	StatusCode int       `json:"status_code"`
	Period     string    `json:"period"`
	Timestamp  time.Time `json:"timestamp"`
}

// GetRecentEvents returns the most recent usage events for an identity.
func (h *Handler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	limit := queryInt(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}

	events, err := h.usage.GetRecent(r.Context(), identity, limit)
	if err != nil {
		h.fail(w, r, err, identity, "", nil)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:         e.ID,
			Provider:   e.Provider,
			Endpoint:   e.Endpoint,
			TokensIn:   e.TokensIn,
			TokensOut:  e.TokensOut,
			CostUSD:    e.CostUSD,
			LatencyMs:  e.LatencyMs,
			StatusCode: e.StatusCode,
			Period:     e.Period,
			Timestamp:  e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"events":   out,
	})
}

type limitResponse struct {
	Calls   int64   `json:"calls"`
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

type quotaResponse struct {
	Identity    string        `json:"identity"`
	Provider    string        `json:"provider"`
	Period      string        `json:"period"`
	Calls       int64         `json:"calls"`
	Tokens      int64         `json:"tokens"`
	CostUSD     float64       `json:"cost_usd"`
	Limit       limitResponse `json:"limit"`
	Status      string        `json:"status"`
	PercentUsed float64       `json:"percent_used"`
	Suspended   bool          `json:"suspended"`
}

// GetQuota returns the quota ledger row and effective status for an
// identity and provider in the current period. The plan query param
// selects the limit; without it the identity's newest key decides.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identity")
	provider := chi.URLParam(r, "provider")

	plan := r.URL.Query().Get("plan")
	if plan == "" {
		plan = h.planFor(r, identityID)
	}

	row, status, limit, err := h.ledger.Status(r.Context(), ports.Identity{ID: identityID, Plan: plan}, provider)
	if err != nil {
		h.fail(w, r, err, identityID, provider, nil)
		return
	}

	writeJSON(w, http.StatusOK, quotaResponse{
		Identity: identityID,
		Provider: provider,
		Period:   row.Period,
		Calls:    row.Calls,
		Tokens:   row.Tokens,
		CostUSD:  row.CostUSD,
		Limit: limitResponse{
			Calls:   limit.Calls,
			Tokens:  limit.Tokens,
			CostUSD: limit.CostUSD,
		},
		Status:      status.String(),
		PercentUsed: quota.PercentUsed(row, limit),
		Suspended:   row.Suspended,
	})
}

// planFor resolves an identity's plan from its stored keys.
func (h *Handler) planFor(r *http.Request, identityID string) string {
	keys, err := h.keys.ListByIdentity(r.Context(), identityID)
	if err != nil || len(keys) == 0 {
		return h.defaultPlan
	}
	newest := keys[0]
	for _, k := range keys[1:] {
		if k.CreatedAt.After(newest.CreatedAt) {
			newest = k
		}
	}
	return newest.Plan
}

// Suspend administratively blocks an identity for a provider.
func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, true)
}

// Resume lifts an administrative suspension.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, false)
}

func (h *Handler) setSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	identityID := chi.URLParam(r, "identity")
	provider := chi.URLParam(r, "provider")

	var err error
	if suspended {
		err = h.ledger.Suspend(r.Context(), identityID, provider)
	} else {
		err = h.ledger.Resume(r.Context(), identityID, provider)
	}
	if err != nil {
		h.fail(w, r, err, identityID, provider, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":  identityID,
		"provider":  provider,
		"suspended": suspended,
	})
}

type planResponse struct {
	Name   string                   `json:"name"`
	Limits map[string]limitResponse `json:"limits"`
}

// ListPlans returns the configured plans, sorted by name.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.plans.Plans()

	out := make([]planResponse, 0, len(plans))
	for name, limits := range plans {
		p := planResponse{Name: name, Limits: make(map[string]limitResponse, len(limits))}
		for provider, l := range limits {
			p.Limits[provider] = limitResponse{Calls: l.Calls, Tokens: l.Tokens, CostUSD: l.CostUSD}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

type alertResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Identity  string    `json:"identity,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAlerts returns the most recent alert records.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	alerts, err := h.alerts.ListRecent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err, "", "", nil)
		return
	}

	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		res := alertResponse{
			ID:        a.ID,
			Kind:      string(a.Kind),
			Identity:  a.Identity,
			Provider:  a.Provider,
			Severity:  string(a.Severity),
			Message:   a.Message,
			CreatedAt: a.CreatedAt,
		}
		if a.Kind == ports.AlertKindThreshold {
			res.Status = a.Status.String()
		}
		out = append(out, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out})
}

// CreateKeyRequest is the body for POST /v1/keys.
type CreateKeyRequest struct {
	Identity  string     `json:"identity"`
	Plan      string     `json:"plan"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateKeyResponse returns the raw key exactly once.
type CreateKeyResponse struct {
	Key      string `json:"key"`
	KeyID    string `json:"key_id"`
	Prefix   string `json:"prefix"`
	Identity string `json:"identity"`
	Plan     string `json:"plan"`
	Name     string `json:"name,omitempty"`
	Note     string `json:"note"`
}

// CreateKey mints a new API key for an identity.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, errclass.Classified{
			Kind:      errclass.KindConfigurationError,
			Severity:  errclass.SeverityLow,
			Message:   "invalid JSON body",
			Timestamp: h.clock.Now(),
		})
		return
	}
	if req.Identity == "" {
		writeErrorBody(w, http.StatusBadRequest, errclass.Classified{
			Kind:      errclass.KindConfigurationError,
			Severity:  errclass.SeverityLow,
			Message:   "identity is required",
			Timestamp: h.clock.Now(),
		})
		return
	}
	if req.Plan == "" {
		req.Plan = h.defaultPlan
	}

	rawKey, k, err := key.Generate(h.keyPrefix, req.Identity, req.Plan, req.Name, h.clock.Now())
	if err != nil {
		h.fail(w, r, err, req.Identity, "", nil)
		return
	}
	k.ExpiresAt = req.ExpiresAt

	if err := h.keys.Create(r.Context(), k); err != nil {
		h.fail(w, r, err, req.Identity, "", nil)
		return
	}

	h.logger.Info().
		Str("key_id", k.ID).
		Str("identity", req.Identity).
		Str("plan", req.Plan).
		Msg("key created")

	writeJSON(w, http.StatusCreated, CreateKeyResponse{
		Key:      rawKey,
		KeyID:    k.ID,
		Prefix:   k.Prefix,
		Identity: req.Identity,
		Plan:     req.Plan,
		Name:     req.Name,
		Note:     "Save this key securely. It will not be shown again.",
	})
}

// RevokeKey revokes a key by id.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.keys.Revoke(r.Context(), id, h.clock.Now()); err != nil {
		h.fail(w, r, err, "", "", map[string]any{"key_id": id})
		return
	}
	h.logger.Info().Str("key_id", id).Msg("key revoked")
	writeJSON(w, http.StatusOK, map[string]any{"key_id": id, "revoked": true})
}

type keyResponse struct {
	ID        string     `json:"id"`
	Identity  string     `json:"identity"`
	Plan      string     `json:"plan"`
	Prefix    string     `json:"prefix"`
	Name      string     `json:"name,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ListKeys returns the keys for an identity. Hashes never leave the store.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeErrorBody(w, http.StatusBadRequest, errclass.Classified{
			Kind:      errclass.KindConfigurationError,
			Severity:  errclass.SeverityLow,
			Message:   "identity query param is required",
			Timestamp: h.clock.Now(),
		})
		return
	}

	keys, err := h.keys.ListByIdentity(r.Context(), identity)
	if err != nil {
		h.fail(w, r, err, identity, "", nil)
		return
	}

	out := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyResponse{
			ID:        k.ID,
			Identity:  k.Identity,
			Plan:      k.Plan,
			Prefix:    k.Prefix,
			Name:      k.Name,
			ExpiresAt: k.ExpiresAt,
			RevokedAt: k.RevokedAt,
			CreatedAt: k.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "keys": out})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Package errclass provides a closed error taxonomy with pure, ordered
// classification rules and sensitive-context redaction.
package errclass

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Kind is the closed set of failure categories. Every error crossing the
// interceptor boundary is classified into exactly one kind.
type Kind string

const (
	KindUsageLimitExceeded Kind = "USAGE_LIMIT_EXCEEDED"
	KindPricingError       Kind = "PRICING_ERROR"
	KindTrackingError      Kind = "TRACKING_ERROR"
	KindStorageError       Kind = "STORAGE_ERROR"
	KindProviderError      Kind = "PROVIDER_ERROR"
	KindAuthError          Kind = "AUTH_ERROR"
	KindBillingError       Kind = "BILLING_ERROR"
	KindConfigurationError Kind = "CONFIGURATION_ERROR"
)

// Severity ranks how urgently a classified error needs attention.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alertable reports whether a severity warrants an alert record.
func (s Severity) Alertable() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Classified is a fully categorized failure (ephemeral value type).
type Classified struct {
	Kind      Kind
	Severity  Severity
	Identity  string
	Provider  string
	Message   string         // internal message, may reference internals
	Context   map[string]any // redacted before leaving the trust boundary
	Timestamp time.Time
}

// UserMessage returns a non-technical message safe to show to callers.
func (c Classified) UserMessage() string {
	switch c.Kind {
	case KindUsageLimitExceeded:
		return "You have reached your usage limit for this billing period."
	case KindAuthError:
		return "Authentication failed. Check your API key."
	case KindBillingError:
		return "There is a problem with your billing account."
	case KindProviderError:
		return "The upstream provider is currently unavailable. Please retry."
	case KindPricingError:
		return "The provider response could not be priced. Please retry."
	default:
		return "An internal error occurred. Please try again later."
	}
}

// Sentinel errors raised by the governance layer itself. Type-based rules
// match these ahead of any keyword heuristics.
var (
	ErrQuotaExceeded   = errors.New("usage quota exceeded")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrSuspended       = errors.New("account suspended")
	ErrUnknownKey      = errors.New("unknown api key")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoPricing       = errors.New("no pricing configured for provider")
)

// Rule pairs a predicate with the classification it yields. Rules are
// evaluated in order; the first match wins.
type Rule struct {
	Name     string
	Match    func(err error, msg string) bool
	Kind     Kind
	Severity Severity
}

func typeIs(target error) func(error, string) bool {
	return func(err error, _ string) bool { return errors.Is(err, target) }
}

func msgHas(words ...string) func(error, string) bool {
	return func(_ error, msg string) bool {
		for _, w := range words {
			if strings.Contains(msg, w) {
				return true
			}
		}
		return false
	}
}

// Rules is the ordered classification table. Type-based matches come
// first, then timeout detection, then keyword heuristics. Exported as
// data so each rule is unit-testable in isolation.
var Rules = []Rule{
	{"quota sentinel", typeIs(ErrQuotaExceeded), KindUsageLimitExceeded, SeverityMedium},
	{"rate sentinel", typeIs(ErrRateLimited), KindUsageLimitExceeded, SeverityLow},
	{"suspended sentinel", typeIs(ErrSuspended), KindAuthError, SeverityMedium},
	{"unknown key sentinel", typeIs(ErrUnknownKey), KindAuthError, SeverityLow},
	{"pricing sentinel", typeIs(ErrNoPricing), KindPricingError, SeverityHigh},
	{"unknown provider sentinel", typeIs(ErrUnknownProvider), KindConfigurationError, SeverityMedium},
	{"context deadline", func(err error, _ string) bool {
		return errors.Is(err, context.DeadlineExceeded)
	}, KindProviderError, SeverityMedium},
	{"context canceled", func(err error, _ string) bool {
		return errors.Is(err, context.Canceled)
	}, KindProviderError, SeverityLow},
	{"limit keywords", msgHas("quota exceeded", "limit exceeded", "too many requests"), KindUsageLimitExceeded, SeverityMedium},
	{"auth keywords", msgHas("unauthorized", "forbidden", "invalid api key", "invalid key", "authentication"), KindAuthError, SeverityMedium},
	{"billing keywords", msgHas("payment", "billing", "subscription", "invoice"), KindBillingError, SeverityHigh},
	{"pricing keywords", msgHas("pricing", "cost calculation", "price"), KindPricingError, SeverityHigh},
	{"storage keywords", msgHas("database", "sql", "sqlite", "connection refused", "disk", "redis"), KindStorageError, SeverityHigh},
	{"tracking keywords", msgHas("usage record", "usage event", "ledger", "tracking"), KindTrackingError, SeverityMedium},
	{"provider keywords", msgHas("provider", "upstream", "timeout", "unavailable", "bad gateway", "502", "503"), KindProviderError, SeverityMedium},
}

// Classify maps a raw error into the taxonomy using the ordered rule
// table. Anything unmatched defaults to CONFIGURATION_ERROR / LOW.
// This is a PURE function (aside from reading the clock-supplied now).
func Classify(err error, identity, provider string, ctx map[string]any, now time.Time) Classified {
	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	kind, severity := KindConfigurationError, SeverityLow
	for _, r := range Rules {
		if r.Match(err, msg) {
			kind, severity = r.Kind, r.Severity
			break
		}
	}

	c := Classified{
		Kind:      kind,
		Severity:  severity,
		Identity:  identity,
		Provider:  provider,
		Context:   Redact(ctx),
		Timestamp: now,
	}
	if err != nil {
		c.Message = err.Error()
	}
	return c
}

// sensitiveKey matches context keys whose values must never leave the
// trust boundary.
var sensitiveKey = regexp.MustCompile(`(?i)(password|token|key|secret)`)

// Redacted replaces sensitive values in responses and logs.
const Redacted = "[REDACTED]"

// Redact returns a copy of ctx with values under sensitive keys replaced.
// The input map is never mutated. This is a PURE function.
func Redact(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if sensitiveKey.MatchString(k) {
			out[k] = Redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// HTTPStatus maps a kind to its client-facing HTTP status.
//
// The mapping is fixed and consistent: limit violations are 429, auth is
// 401, billing is 402 (payment required), provider-side faults including
// pricing are 502, and internal faults (configuration, storage, tracking)
// are 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUsageLimitExceeded:
		return 429
	case KindAuthError:
		return 401
	case KindBillingError:
		return 402
	case KindProviderError, KindPricingError:
		return 502
	default: // configuration, storage, tracking
		return 500
	}
}

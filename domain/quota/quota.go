// Package quota provides pure functions for quota accounting and enforcement.
// All functions are deterministic with no side effects.
package quota

// Limit represents plan-defined consumption ceilings for one provider
// (value type). A limit of 0 on any dimension means unlimited on that
// dimension. Limits are immutable within a billing period; changes apply
// at the next period rollover.
type Limit struct {
	Calls   int64
	Tokens  int64
	CostUSD float64
}

// Unlimited reports whether the limit restricts nothing.
func (l Limit) Unlimited() bool {
	return l.Calls == 0 && l.Tokens == 0 && l.CostUSD == 0
}

// Delta is a non-negative usage increment (value type).
type Delta struct {
	Calls   int64
	Tokens  int64
	CostUSD float64
}

// Summary holds running totals for one (identity, provider, period) ledger
// row (value type). Totals never decrease within a period; Suspended is an
// administrative flag that overrides the computed status.
type Summary struct {
	Identity  string
	Provider  string
	Period    string // billing period key, e.g. "2025-01"
	Calls     int64
	Tokens    int64
	CostUSD   float64
	Suspended bool
}

// Add returns the summary with the delta applied.
// This is a PURE function.
func (s Summary) Add(d Delta) Summary {
	s.Calls += d.Calls
	s.Tokens += d.Tokens
	s.CostUSD += d.CostUSD
	return s
}

// Status describes how restrictive the ledger currently is for a row.
// Ordering matters: a higher value is strictly more restrictive, and
// within a billing period the effective status only moves upward.
type Status int

const (
	StatusActive       Status = iota // below all warning thresholds
	StatusWarning                    // any dimension >= 80% of its limit
	StatusLimitReached               // any dimension >= 100% of its limit
	StatusSuspended                  // administratively suspended
)

// String returns the string representation of a status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWarning:
		return "warning"
	case StatusLimitReached:
		return "limit_reached"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Warning thresholds as fractions of a limit.
const (
	WarningThreshold = 0.80
	LimitThreshold   = 1.00
)

// StatusOf computes the effective status of a ledger row against a limit.
// This is a PURE function.
//
// Because totals never decrease within a period, the status computed here
// is monotonically non-decreasing across a sequence of Add calls - the
// monotonicity invariant falls out of the arithmetic, nothing is stored.
func StatusOf(s Summary, limit Limit) Status {
	if s.Suspended {
		return StatusSuspended
	}

	p := PercentUsed(s, limit)
	switch {
	case p >= LimitThreshold*100:
		return StatusLimitReached
	case p >= WarningThreshold*100:
		return StatusWarning
	default:
		return StatusActive
	}
}

// PercentUsed returns the utilization of the most consumed dimension as a
// percentage of its non-zero limit. Dimensions with a 0 limit never
// restrict and contribute nothing.
// This is a PURE function.
func PercentUsed(s Summary, limit Limit) float64 {
	var p float64
	if limit.Calls > 0 {
		p = maxFloat(p, float64(s.Calls)/float64(limit.Calls)*100)
	}
	if limit.Tokens > 0 {
		p = maxFloat(p, float64(s.Tokens)/float64(limit.Tokens)*100)
	}
	if limit.CostUSD > 0 {
		p = maxFloat(p, s.CostUSD/limit.CostUSD*100)
	}
	return p
}

// Blocked reports whether a downstream gate reading this row should reject
// new work. Recording stays permissive; only admission is restricted.
func Blocked(status Status) bool {
	return status >= StatusLimitReached
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

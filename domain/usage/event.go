// Package usage provides usage event types and aggregation functions.
// All functions are pure - no side effects.
package usage

import "time"

// Status codes recorded on events for calls that never produced an HTTP
// response from the provider.
const (
	StatusTimeout     = 504 // provider call exceeded the caller's deadline
	StatusClientError = 599 // transport-level failure before any response
)

// Event represents a single usage event (immutable value type).
// Once written to a store an event is never mutated; corrections are new
// events. Every attempted provider call produces exactly one event, even
// on timeout or transport failure (those carry zero tokens and cost).
type Event struct {
	ID         string
	Identity   string
	Provider   string
	Endpoint   string
	TokensIn   int64
	TokensOut  int64
	CostUSD    float64
	LatencyMs  int64
	StatusCode int
	Period     string // billing period key, e.g. "2025-01"
	Timestamp  time.Time
}

// Tokens returns the total token count for the event.
func (e Event) Tokens() int64 {
	return e.TokensIn + e.TokensOut
}

// Failed reports whether the event recorded an unsuccessful call.
func (e Event) Failed() bool {
	return e.StatusCode >= 400
}

// Summary represents aggregated usage for an identity over a period
// (value type).
type Summary struct {
	Identity     string
	Provider     string
	Period       string
	Calls        int64
	TokensIn     int64
	TokensOut    int64
	CostUSD      float64
	ErrorCount   int64
	AvgLatencyMs int64
}

// Aggregate folds events into a summary.
// This is a PURE function.
func Aggregate(events []Event, identity, period string) Summary {
	s := Summary{Identity: identity, Period: period}
	if len(events) == 0 {
		return s
	}

	var totalLatency int64
	for _, e := range events {
		if s.Provider == "" {
			s.Provider = e.Provider
		} else if s.Provider != e.Provider {
			s.Provider = "*" // mixed providers
		}

		s.Calls++
		s.TokensIn += e.TokensIn
		s.TokensOut += e.TokensOut
		s.CostUSD += e.CostUSD
		totalLatency += e.LatencyMs

		if e.Failed() {
			s.ErrorCount++
		}
	}

	if s.Calls > 0 {
		s.AvgLatencyMs = totalLatency / s.Calls
	}
	return s
}

// MergeSummaries combines summaries for the same identity and period.
// This is a PURE function.
func MergeSummaries(summaries ...Summary) Summary {
	if len(summaries) == 0 {
		return Summary{}
	}

	result := summaries[0]
	for _, s := range summaries[1:] {
		if result.Provider != s.Provider {
			result.Provider = "*"
		}

		// Weighted average for latency.
		if result.Calls+s.Calls > 0 {
			total := result.AvgLatencyMs*result.Calls + s.AvgLatencyMs*s.Calls
			result.AvgLatencyMs = total / (result.Calls + s.Calls)
		}

		result.Calls += s.Calls
		result.TokensIn += s.TokensIn
		result.TokensOut += s.TokensOut
		result.CostUSD += s.CostUSD
		result.ErrorCount += s.ErrorCount
	}
	return result
}

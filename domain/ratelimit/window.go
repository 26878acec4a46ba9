// Package ratelimit provides pure fixed-window rate limiting algorithms.
// All functions are deterministic - same input always produces same output.
package ratelimit

import "time"

// WindowState represents the current state of a rate limit window (value type).
// A zero WindowState means no requests have been seen for the key.
type WindowState struct {
	Count       int       // Requests counted in the current window
	WindowStart time.Time // When the current window opened
}

// Config holds rate limit configuration (value type).
type Config struct {
	Limit  int           // Requests per window
	Window time.Duration // Window duration
}

// Result represents the outcome of a rate limit check (value type).
type Result struct {
	Allowed    bool
	Remaining  int           // Requests remaining in the current window
	RetryAfter time.Duration // How long to wait before retrying (0 if allowed)
	ResetAt    time.Time     // When the current window resets
	Reason     string        // If not allowed, why
}

// Reasons for denial
const (
	ReasonLimitExceeded = "rate_limit_exceeded"
)

// Check performs a fixed-window rate limit check.
// This is a PURE function - no side effects, deterministic.
//
// The window opens on the first request and resets once cfg.Window has
// elapsed. This is a fixed-window counter, not a sliding window: a caller
// can burst up to 2*Limit across a window boundary. That is an accepted,
// documented trade-off for O(1) state per key.
//
// Returns the check outcome and the updated state, which the caller must
// persist. Concurrent checks for the same key must be serialized by the
// caller (the stores do this per key).
func Check(state WindowState, cfg Config, now time.Time) (Result, WindowState) {
	// New window: nothing seen yet, or the previous window elapsed.
	if state.WindowStart.IsZero() || now.Sub(state.WindowStart) >= cfg.Window {
		state = WindowState{Count: 1, WindowStart: now}
		return Result{
			Allowed:   true,
			Remaining: maxInt(cfg.Limit-1, 0),
			ResetAt:   now.Add(cfg.Window),
		}, state
	}

	resetAt := state.WindowStart.Add(cfg.Window)
	state.Count++

	if state.Count <= cfg.Limit {
		return Result{
			Allowed:   true,
			Remaining: cfg.Limit - state.Count,
			ResetAt:   resetAt,
		}, state
	}

	retry := resetAt.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: retry,
		ResetAt:    resetAt,
		Reason:     ReasonLimitExceeded,
	}, state
}

// Expired reports whether a window state is stale relative to now.
// Used by stores to sweep entries older than 2x the window width.
func Expired(state WindowState, window time.Duration, now time.Time) bool {
	if state.WindowStart.IsZero() {
		return true
	}
	return now.Sub(state.WindowStart) >= 2*window
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

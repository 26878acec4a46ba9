package quota

import (
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// StatusOf tests
// -----------------------------------------------------------------------------

func TestStatusOf_Unlimited(t *testing.T) {
	s := Summary{Calls: 1_000_000, Tokens: 99_999_999, CostUSD: 12345.67}
	limit := Limit{} // all zero = unlimited

	if got := StatusOf(s, limit); got != StatusActive {
		t.Errorf("StatusOf = %v, want StatusActive for unlimited", got)
	}
}

func TestStatusOf_Thresholds(t *testing.T) {
	limit := Limit{Calls: 100}

	tests := []struct {
		name  string
		calls int64
		want  Status
	}{
		{"zero usage", 0, StatusActive},
		{"79 calls", 79, StatusActive},
		{"80 calls", 80, StatusWarning},
		{"99 calls", 99, StatusWarning},
		{"100 calls", 100, StatusLimitReached},
		{"150 calls", 150, StatusLimitReached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summary{Calls: tt.calls}
			if got := StatusOf(s, limit); got != tt.want {
				t.Errorf("StatusOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusOf_WorstDimensionWins(t *testing.T) {
	limit := Limit{Calls: 1000, Tokens: 100, CostUSD: 50}

	// Calls barely used, tokens at 85%.
	s := Summary{Calls: 10, Tokens: 85, CostUSD: 1}
	if got := StatusOf(s, limit); got != StatusWarning {
		t.Errorf("StatusOf = %v, want StatusWarning (tokens at 85%%)", got)
	}

	// Cost dimension over limit.
	s = Summary{Calls: 10, Tokens: 10, CostUSD: 50}
	if got := StatusOf(s, limit); got != StatusLimitReached {
		t.Errorf("StatusOf = %v, want StatusLimitReached (cost at 100%%)", got)
	}
}

func TestStatusOf_SuspendedOverrides(t *testing.T) {
	s := Summary{Calls: 0, Suspended: true}
	if got := StatusOf(s, Limit{Calls: 100}); got != StatusSuspended {
		t.Errorf("StatusOf = %v, want StatusSuspended", got)
	}
}

func TestStatusOf_Monotonic(t *testing.T) {
	// For any sequence of non-negative increments the status sequence is
	// non-decreasing in restrictiveness.
	limit := Limit{Calls: 100}
	s := Summary{}
	prev := StatusOf(s, limit)

	for i := 0; i < 120; i++ {
		s = s.Add(Delta{Calls: 1})
		cur := StatusOf(s, limit)
		if cur < prev {
			t.Fatalf("status regressed from %v to %v at call %d", prev, cur, i+1)
		}
		prev = cur
	}
	if prev != StatusLimitReached {
		t.Errorf("final status = %v, want StatusLimitReached", prev)
	}
}

func TestPercentUsed(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		limit   Limit
		want    float64
	}{
		{"no limits", Summary{Calls: 500}, Limit{}, 0},
		{"calls half", Summary{Calls: 50}, Limit{Calls: 100}, 50},
		{"cost dominates", Summary{Calls: 10, CostUSD: 9}, Limit{Calls: 100, CostUSD: 10}, 90},
		{"tokens over", Summary{Tokens: 150}, Limit{Tokens: 100}, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PercentUsed(tt.summary, tt.limit); got != tt.want {
				t.Errorf("PercentUsed = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestBlocked(t *testing.T) {
	if Blocked(StatusActive) || Blocked(StatusWarning) {
		t.Errorf("active/warning must not block")
	}
	if !Blocked(StatusLimitReached) || !Blocked(StatusSuspended) {
		t.Errorf("limit_reached/suspended must block")
	}
}

func TestSummaryAdd(t *testing.T) {
	s := Summary{Calls: 1, Tokens: 10, CostUSD: 0.5}
	s = s.Add(Delta{Calls: 2, Tokens: 90, CostUSD: 1.5})

	if s.Calls != 3 {
		t.Errorf("Calls = %d, want 3", s.Calls)
	}
	if s.Tokens != 100 {
		t.Errorf("Tokens = %d, want 100", s.Tokens)
	}
	if s.CostUSD != 2.0 {
		t.Errorf("CostUSD = %f, want 2.0", s.CostUSD)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusActive, "active"},
		{StatusWarning, "warning"},
		{StatusLimitReached, "limit_reached"},
		{StatusSuspended, "suspended"},
		{Status(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

// -----------------------------------------------------------------------------
// Period tests
// -----------------------------------------------------------------------------

func TestPeriodKey(t *testing.T) {
	ts := time.Date(2025, time.January, 15, 10, 30, 0, 0, time.UTC)
	if got := PeriodKey(ts); got != "2025-01" {
		t.Errorf("PeriodKey = %q, want %q", got, "2025-01")
	}
}

func TestPeriodBounds(t *testing.T) {
	ts := time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC) // leap year
	start, end := PeriodBounds(ts)

	wantStart := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, time.February, 29, 23, 59, 59, 999999999, time.UTC)

	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", end, wantEnd)
	}
}

func TestParsePeriod(t *testing.T) {
	got, err := ParsePeriod("2025-06")
	if err != nil {
		t.Fatalf("ParsePeriod error: %v", err)
	}
	want := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParsePeriod = %v, want %v", got, want)
	}

	if _, err := ParsePeriod("not-a-period"); err == nil {
		t.Errorf("expected error for malformed period key")
	}
}

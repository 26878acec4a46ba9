package quota

import "time"

// PeriodKey returns the calendar-month billing period key for a time,
// e.g. "2025-01". This is a PURE function.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodBounds returns the start and end of the billing period containing t.
// This is a PURE function.
func PeriodBounds(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return
}

// ParsePeriod parses a billing period key back into its period start.
func ParsePeriod(key string) (time.Time, error) {
	return time.Parse("2006-01", key)
}

// Package timeutil provides UTC day arithmetic for the detection
// pipeline. Observation windows, baselines and alert timestamps are
// all kept in UTC; day boundaries are UTC days. No external
// dependencies - uses only standard library.
package timeutil

import "time"

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
)

// DayKey returns the UTC calendar-day key (YYYY-MM-DD) for a time.
func DayKey(t time.Time) string {
	return t.UTC().Format(FormatDate)
}

// StartOfDay returns the start of the UTC day (00:00:00) containing t.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the end of the UTC day (23:59:59.999999999) containing t.
func EndOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 999999999, time.UTC)
}

// SameDay reports whether two times fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.YearDay() == bu.YearDay()
}

// DaysSince returns the number of whole UTC calendar days between t and now.
// Returns 0 for today and for zero or future times.
func DaysSince(t, now time.Time) int {
	if t.IsZero() {
		return 0
	}
	d := int(StartOfDay(now).Sub(StartOfDay(t)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// DaysAgo returns the start of the UTC day n days before now.
func DaysAgo(now time.Time, n int) time.Time {
	return StartOfDay(now).AddDate(0, 0, -n)
}

// UniqueDays counts the distinct UTC calendar days among the timestamps.
func UniqueDays(timestamps []time.Time) int {
	days := make(map[string]struct{}, len(timestamps))
	for _, t := range timestamps {
		days[DayKey(t)] = struct{}{}
	}
	return len(days)
}

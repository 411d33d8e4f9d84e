package core

import "time"

// =============================================================================
// CALENDAR-DAY ARITHMETIC - All accrual math runs on UTC days
// =============================================================================

// StartOfDayUTC truncates a timestamp to UTC midnight.
func StartOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDayUTC reports whether two timestamps fall on the same UTC
// calendar day. This is the idempotency guard for daily ROI crediting.
func SameDayUTC(a, b time.Time) bool {
	return StartOfDayUTC(a).Equal(StartOfDayUTC(b))
}

// DaysSince returns the number of whole days elapsed from start to now,
// floored. Negative spans return a negative count; callers clamp where
// their formula requires it.
func DaysSince(start, now time.Time) int {
	return int(now.Sub(start).Hours() / 24)
}

// NextMidnightUTC returns the first UTC midnight strictly after t.
func NextMidnightUTC(t time.Time) time.Time {
	return StartOfDayUTC(t).AddDate(0, 0, 1)
}

// Package quiet implements the do-not-disturb window evaluation for
// sequence dispatch. Hours are local-clock hours in [0,23] interpreted
// in the timestamp's own location; a window [start, end) suppresses
// sends and wraps past midnight when start > end.
package quiet

import "time"

// Suppressed reports whether t falls inside the [startHour, endHour)
// quiet window.
//
// Non-wrapping (start <= end): suppressed when start <= hour < end.
// Wrapping (start > end, e.g. 22->8): suppressed when hour >= start or
// hour < end. Equal hours mean the window covers the whole day.
func Suppressed(t time.Time, startHour, endHour int) bool {
	h := t.Hour()
	switch {
	case startHour == endHour:
		return true
	case startHour < endHour:
		return h >= startHour && h < endHour
	default:
		return h >= startHour || h < endHour
	}
}

// NextEligible returns the next instant outside the quiet window: the
// first occurrence of endHour:00 strictly after t, in t's location.
// Minutes within the current hour never matter because the window
// boundaries are whole hours.
func NextEligible(t time.Time, startHour, endHour int) time.Time {
	day := t.Day()
	if t.Hour() >= endHour {
		day++
	}
	// time.Date normalizes day overflow and DST gaps for us.
	return time.Date(t.Year(), t.Month(), day, endHour, 0, 0, 0, t.Location())
}

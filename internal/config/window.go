package config

import (
	"fmt"
	"time"
)

// clockTime is minutes since midnight.
type clockTime int

func parseClockTime(s string) (clockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return clockTime(h*60 + m), nil
}

// Location resolves the configured timezone, UTC on failure.
func (w WorkingWindowConfig) Location() *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Bounds returns the earliest and latest allowed instants for the calendar
// day containing t, in the user's configured zone.
func (w WorkingWindowConfig) Bounds(t time.Time) (time.Time, time.Time) {
	loc := w.Location()
	local := t.In(loc)
	y, mo, d := local.Date()

	earliest, err := parseClockTime(w.Earliest)
	if err != nil {
		earliest = 0
	}
	latest, err := parseClockTime(w.Latest)
	if err != nil {
		latest = 24*60 - 1
	}

	lo := time.Date(y, mo, d, int(earliest)/60, int(earliest)%60, 0, 0, loc)
	hi := time.Date(y, mo, d, int(latest)/60, int(latest)%60, 0, 0, loc)
	return lo, hi
}

// Clamp restricts t to the working window of its own day.
func (w WorkingWindowConfig) Clamp(t time.Time) time.Time {
	lo, hi := w.Bounds(t)
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

// LocalDate formats t as YYYY-MM-DD in the user's configured zone; this is
// the "today" boundary used by planning and nudging.
func (w WorkingWindowConfig) LocalDate(t time.Time) string {
	return t.In(w.Location()).Format("2006-01-02")
}

// DayRange returns the [start, end) instants of the local calendar day named
// by date (YYYY-MM-DD).
func (w WorkingWindowConfig) DayRange(date string) (time.Time, time.Time, error) {
	loc := w.Location()
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse plan date %q: %w", date, err)
	}
	return day, day.AddDate(0, 0, 1), nil
}

// EndOfDay returns the last instant of the local day containing t.
func (w WorkingWindowConfig) EndOfDay(t time.Time) time.Time {
	loc := w.Location()
	local := t.In(loc)
	y, mo, d := local.Date()
	return time.Date(y, mo, d, 23, 59, 59, 0, loc)
}

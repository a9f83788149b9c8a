package timeparser

import (
	"time"
)

// FromEpochMillis converts a device timestamp in epoch milliseconds
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// ToEpochMillis converts a time to epoch milliseconds as used on the wire
func ToEpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// DayBounds returns the start of t's calendar day and the start of the next
// one, both in t's location. DST transitions make some days 23 or 25 hours.
func DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	end := time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
	return start, end
}

// IsSameDay reports whether ts falls on the calendar day of now, evaluated in now's location
func IsSameDay(ts, now time.Time) bool {
	start, end := DayBounds(now)
	return !ts.Before(start) && ts.Before(end)
}

// Package localday maps UTC instants onto a participant's local calendar day
// using a fixed offset. No timezone database is consulted.
package localday

import "time"

// DateLayout is the canonical text form of a local date.
const DateLayout = "2006-01-02"

// Window is a local calendar day and the UTC instants that bound it.
type Window struct {
	// Date is midnight of the local date, expressed in UTC.
	Date  time.Time
	Start time.Time
	End   time.Time
}

// Resolve returns the local day containing t for the given offset in seconds.
func Resolve(t time.Time, offsetSeconds int) Window {
	offset := time.Duration(offsetSeconds) * time.Second
	date := Date(t, offsetSeconds)
	return Window{
		Date:  date,
		Start: date.Add(-offset),
		End:   date.Add(24*time.Hour - time.Millisecond).Add(-offset),
	}
}

// Date returns midnight (UTC location) of the local calendar date of t.
func Date(t time.Time, offsetSeconds int) time.Time {
	y, m, d := Local(t, offsetSeconds).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Local shifts t by the offset. The result's wall clock, read in UTC, is the
// participant's local wall clock.
func Local(t time.Time, offsetSeconds int) time.Time {
	return t.UTC().Add(time.Duration(offsetSeconds) * time.Second)
}

// Clock returns the participant's local hour and minute at t.
func Clock(t time.Time, offsetSeconds int) (hour, minute int) {
	local := Local(t, offsetSeconds)
	return local.Hour(), local.Minute()
}

// Contains reports whether instant t falls within the window, inclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// String formats the window's local date.
func (w Window) String() string {
	return w.Date.Format(DateLayout)
}

// ParseDate parses a local date in DateLayout.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

package engine

import (
	"time"

	"example.com/sockathon/internal/localday"
)

// Rules are the challenge constants, fixed for the life of the process.
type Rules struct {
	ThresholdSeconds int64
	WarningHour      int
	WarningMinute    int
	FailureHour      int
	FailureMinute    int
	// EventStart and EventEnd are wall times. A participant is inside the
	// event while their local clock is within [EventStart, EventEnd].
	EventStart time.Time
	EventEnd   time.Time
	// Channel receives threshold notices and elimination broadcasts.
	Channel string
}

// InEvent reports whether the participant's local clock at now is within the event.
func (r Rules) InEvent(now time.Time, offsetSeconds int) bool {
	local := localday.Local(now, offsetSeconds)
	return !local.Before(r.EventStart) && !local.After(r.EventEnd)
}

// Crossed reports whether a recomputation moved a day from below the
// threshold to at or above it.
func (r Rules) Crossed(before, after int64) bool {
	return before < r.ThresholdSeconds && after >= r.ThresholdSeconds
}

func (r Rules) isWarning(hour, minute int) bool {
	return hour == r.WarningHour && minute == r.WarningMinute
}

func (r Rules) isFailure(hour, minute int) bool {
	return hour == r.FailureHour && minute == r.FailureMinute
}

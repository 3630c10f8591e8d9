package domain

import (
	"encoding/json"
	"time"
)

// TeamCapacity is the maximum number of members a team may have. Joins are
// validated outside the engine; the engine only reads membership.
const TeamCapacity = 6

// Participant is a registered challenger. The offset and label are captured
// on first interaction and never re-evaluated for daylight saving.
type Participant struct {
	ID              string
	Username        string
	TZOffsetSeconds int
	TZLabel         string
	TeamID          *int64
	TrackerPassword string
}

// HasTeam reports whether the participant currently belongs to a team.
func (p Participant) HasTeam() bool {
	return p.TeamID != nil
}

// Team groups up to TeamCapacity participants. EliminatedAt is the
// elimination marker: nil while active, set exactly once when the team fails.
type Team struct {
	ID           int64
	Name         string
	JoinCode     string
	Capacity     int
	EliminatedAt *time.Time
}

// Active reports whether the team has not been eliminated.
func (t Team) Active() bool {
	return t.EliminatedAt == nil
}

// TeamState is the lifecycle state of a team.
type TeamState string

const (
	TeamStateActive TeamState = "active"
	TeamStateFailed TeamState = "failed"
)

// State maps the elimination marker to a TeamState.
func (t Team) State() TeamState {
	if t.Active() {
		return TeamStateActive
	}
	return TeamStateFailed
}

// DailySummary is the latest recomputed coded-time summary for one
// participant's local calendar day. Date is midnight of that day in UTC.
// CodedSeconds is derived from Payload when the summary is written and is
// carried only for downstream events.
type DailySummary struct {
	ParticipantID string
	TeamID        *int64
	Date          time.Time
	Payload       json.RawMessage
	CodedSeconds  int64
	UpdatedAt     time.Time
}

// LeaderboardEntry is one row of the team leaderboard projection.
type LeaderboardEntry struct {
	TeamID       int64
	TeamName     string
	CodedSeconds int64
	Members      int
	EliminatedAt *time.Time
}

// Package domain defines the core types and persistence contracts of the challenge engine.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrParticipantNotFound is returned when a participant cannot be located.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrTeamNotFound is returned when a team cannot be located.
	ErrTeamNotFound = errors.New("team not found")
	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid date range")
)

// ParticipantRepository reads participants. Membership is never mutated by the engine.
type ParticipantRepository interface {
	GetParticipant(ctx context.Context, id string) (*Participant, error)
	ListActiveParticipants(ctx context.Context) ([]Participant, error)
}

// TeamRepository reads teams and performs the elimination transition.
type TeamRepository interface {
	GetTeam(ctx context.Context, id int64) (*Team, error)
	TeamMembers(ctx context.Context, teamID int64) ([]Participant, error)
	// EliminateTeam sets the elimination marker only if it is still unset and
	// reports whether this call performed the transition.
	EliminateTeam(ctx context.Context, teamID int64, at time.Time) (bool, error)
}

// SummaryRepository stores daily summaries keyed by (participant, date).
type SummaryRepository interface {
	GetDailySummary(ctx context.Context, participantID string, date time.Time) (*DailySummary, error)
	UpsertDailySummary(ctx context.Context, summary DailySummary) error
	ListDailySummaries(ctx context.Context, participantID string, from, to time.Time) ([]DailySummary, error)
}

// PendingRecord is a ledger record whose summary sync has not succeeded yet.
type PendingRecord struct {
	ParticipantID string
	RecordID      int64
	RecordedAt    time.Time
}

// CursorRepository persists the ledger high-water mark and the records that
// still need a successful sync.
type CursorRepository interface {
	LoadCursor(ctx context.Context, name string) (int64, error)
	PendingRecords(ctx context.Context, name string) ([]PendingRecord, error)
	// AdvanceCursor moves the cursor, stores failed records for retry and
	// clears records that synced, all in one step.
	AdvanceCursor(ctx context.Context, name string, cursor int64, failed []PendingRecord, synced []PendingRecord) error
}

// LeaderboardRepository reads the team leaderboard projection.
type LeaderboardRepository interface {
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// RangeCalculator sums productive seconds over an inclusive range of local dates.
type RangeCalculator interface {
	CodedSecondsTotal(ctx context.Context, participantID string, from, to time.Time) (int64, error)
}

// Service serves read-side queries over the store for the HTTP API.
type Service struct {
	participants ParticipantRepository
	teams        TeamRepository
	leaderboard  LeaderboardRepository
	calculator   RangeCalculator
}

// NewService constructs a Service.
func NewService(participants ParticipantRepository, teams TeamRepository, leaderboard LeaderboardRepository, calculator RangeCalculator) *Service {
	return &Service{
		participants: participants,
		teams:        teams,
		leaderboard:  leaderboard,
		calculator:   calculator,
	}
}

// TeamStatus bundles a team with its current members.
type TeamStatus struct {
	Team    Team
	Members []Participant
}

// CodedSecondsTotal sums coded seconds for a participant across the inclusive date range.
func (s *Service) CodedSecondsTotal(ctx context.Context, participantID string, from, to time.Time) (int64, error) {
	if to.Before(from) {
		return 0, ErrInvalidRange
	}
	p, err := s.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, ErrParticipantNotFound
	}

	return s.calculator.CodedSecondsTotal(ctx, participantID, from, to)
}

// GetTeamStatus returns a team and its members.
func (s *Service) GetTeamStatus(ctx context.Context, teamID int64) (*TeamStatus, error) {
	team, err := s.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, ErrTeamNotFound
	}
	members, err := s.teams.TeamMembers(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return &TeamStatus{Team: *team, Members: members}, nil
}

// Leaderboard returns teams ordered by total coded seconds.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return s.leaderboard.Leaderboard(ctx, limit)
}

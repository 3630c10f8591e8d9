// Package memory provides an in-process store with the same semantics as the
// Postgres repository. It backs local development runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"example.com/sockathon/internal/domain"
)

type summaryKey struct {
	participantID string
	date          string
}

// Repository stores challenge state in memory.
type Repository struct {
	mu           sync.RWMutex
	participants map[string]domain.Participant
	teams        map[int64]domain.Team
	summaries    map[summaryKey]domain.DailySummary
	cursors      map[string]int64
	pending      map[string]map[string]domain.PendingRecord
	nextTeamID   int64
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		participants: make(map[string]domain.Participant),
		teams:        make(map[int64]domain.Team),
		summaries:    make(map[summaryKey]domain.DailySummary),
		cursors:      make(map[string]int64),
		pending:      make(map[string]map[string]domain.PendingRecord),
		nextTeamID:   1,
	}
}

// AddTeam registers a team and returns it with its assigned identifier.
func (r *Repository) AddTeam(name, joinCode string) domain.Team {
	r.mu.Lock()
	defer r.mu.Unlock()

	team := domain.Team{ID: r.nextTeamID, Name: name, JoinCode: joinCode, Capacity: domain.TeamCapacity}
	r.teams[team.ID] = team
	r.nextTeamID++
	return team
}

// AddParticipant registers or replaces a participant.
func (r *Repository) AddParticipant(p domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.ID] = p
}

// GetParticipant implements domain.ParticipantRepository.
func (r *Repository) GetParticipant(_ context.Context, id string) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListActiveParticipants returns participants whose team has not been eliminated.
func (r *Repository) ListActiveParticipants(_ context.Context) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.TeamID == nil {
			continue
		}
		if team, ok := r.teams[*p.TeamID]; ok && team.Active() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTeam implements domain.TeamRepository.
func (r *Repository) GetTeam(_ context.Context, id int64) (*domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	team, ok := r.teams[id]
	if !ok {
		return nil, nil
	}
	return &team, nil
}

// TeamMembers returns the current members of a team ordered by identifier.
func (r *Repository) TeamMembers(_ context.Context, teamID int64) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, domain.TeamCapacity)
	for _, p := range r.participants {
		if p.TeamID != nil && *p.TeamID == teamID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EliminateTeam sets the elimination marker if it is unset.
func (r *Repository) EliminateTeam(_ context.Context, teamID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	team, ok := r.teams[teamID]
	if !ok {
		return false, domain.ErrTeamNotFound
	}
	if team.EliminatedAt != nil {
		return false, nil
	}
	marker := at.UTC()
	team.EliminatedAt = &marker
	r.teams[teamID] = team
	return true, nil
}

// GetDailySummary implements domain.SummaryRepository.
func (r *Repository) GetDailySummary(_ context.Context, participantID string, date time.Time) (*domain.DailySummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.summaries[keyFor(participantID, date)]
	if !ok {
		return nil, nil
	}
	return cloneSummary(s), nil
}

// UpsertDailySummary replaces the stored summary for (participant, date).
func (r *Repository) UpsertDailySummary(_ context.Context, s domain.DailySummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	r.summaries[keyFor(s.ParticipantID, s.Date)] = *cloneSummary(s)
	return nil
}

// ListDailySummaries returns summaries within the inclusive date range ordered by date.
func (r *Repository) ListDailySummaries(_ context.Context, participantID string, from, to time.Time) ([]domain.DailySummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DailySummary, 0)
	for key, s := range r.summaries {
		if key.participantID != participantID {
			continue
		}
		if s.Date.Before(truncate(from)) || s.Date.After(truncate(to)) {
			continue
		}
		out = append(out, *cloneSummary(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// LoadCursor implements domain.CursorRepository.
func (r *Repository) LoadCursor(_ context.Context, name string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursors[name], nil
}

// PendingRecords implements domain.CursorRepository.
func (r *Repository) PendingRecords(_ context.Context, name string) ([]domain.PendingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.PendingRecord, 0, len(r.pending[name]))
	for _, rec := range r.pending[name] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

// AdvanceCursor implements domain.CursorRepository. The cursor never moves backwards.
func (r *Repository) AdvanceCursor(_ context.Context, name string, cursor int64, failed, synced []domain.PendingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cursor > r.cursors[name] {
		r.cursors[name] = cursor
	}
	set, ok := r.pending[name]
	if !ok {
		set = make(map[string]domain.PendingRecord)
		r.pending[name] = set
	}
	for _, rec := range synced {
		if existing, ok := set[rec.ParticipantID]; ok && existing.RecordID <= rec.RecordID {
			delete(set, rec.ParticipantID)
		}
	}
	for _, rec := range failed {
		if existing, ok := set[rec.ParticipantID]; !ok || rec.RecordID > existing.RecordID {
			set[rec.ParticipantID] = rec
		}
	}
	return nil
}

// Leaderboard computes team totals directly from stored summaries.
func (r *Repository) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make(map[int64]*domain.LeaderboardEntry, len(r.teams))
	for id, team := range r.teams {
		entries[id] = &domain.LeaderboardEntry{TeamID: id, TeamName: team.Name, EliminatedAt: team.EliminatedAt}
	}
	for _, p := range r.participants {
		if p.TeamID == nil {
			continue
		}
		if entry, ok := entries[*p.TeamID]; ok {
			entry.Members++
		}
	}
	for _, s := range r.summaries {
		if s.TeamID == nil {
			continue
		}
		if entry, ok := entries[*s.TeamID]; ok {
			entry.CodedSeconds += s.CodedSeconds
		}
	}

	out := make([]domain.LeaderboardEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CodedSeconds != out[j].CodedSeconds {
			return out[i].CodedSeconds > out[j].CodedSeconds
		}
		return out[i].TeamID < out[j].TeamID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func keyFor(participantID string, date time.Time) summaryKey {
	return summaryKey{participantID: participantID, date: truncate(date).Format("2006-01-02")}
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cloneSummary(s domain.DailySummary) *domain.DailySummary {
	out := s
	out.Date = truncate(s.Date)
	if s.Payload != nil {
		out.Payload = append(json.RawMessage(nil), s.Payload...)
	}
	if s.TeamID != nil {
		id := *s.TeamID
		out.TeamID = &id
	}
	return &out
}

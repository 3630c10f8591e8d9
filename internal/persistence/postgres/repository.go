// Package postgres implements the store on Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/events"
	"example.com/sockathon/internal/localday"
)

// ErrDuplicateTeam is returned when a team name or join code is already taken.
var ErrDuplicateTeam = errors.New("team name or join code already taken")

// Repository provides Postgres-backed persistence for challenge state and
// records outbox events in the same transaction as the state they describe.
type Repository struct {
	pool    *pgxpool.Pool
	catalog events.Catalog
}

// Option configures a Repository.
type Option func(*Repository)

// WithCatalog overrides the event routing.
func WithCatalog(c events.Catalog) Option {
	return func(r *Repository) {
		r.catalog = c
	}
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, catalog: events.NewCatalog("", "")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const participantColumns = `p.id, p.username, p.tz_offset_seconds, p.tz_label, p.team_id, p.tracker_password`

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.Username, &p.TZOffsetSeconds, &p.TZLabel, &p.TeamID, &p.TrackerPassword)
	return p, err
}

// GetParticipant implements domain.ParticipantRepository.
func (r *Repository) GetParticipant(ctx context.Context, id string) (*domain.Participant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants p WHERE p.id = $1`, id)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListActiveParticipants returns participants whose team has not been eliminated.
func (r *Repository) ListActiveParticipants(ctx context.Context) ([]domain.Participant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+participantColumns+`
        FROM participants p JOIN teams t ON t.id = p.team_id
        WHERE t.eliminated_at IS NULL
        ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	return collectParticipants(rows)
}

// TeamMembers returns the current members of a team.
func (r *Repository) TeamMembers(ctx context.Context, teamID int64) ([]domain.Participant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+participantColumns+` FROM participants p WHERE p.team_id = $1 ORDER BY p.id`, teamID)
	if err != nil {
		return nil, err
	}
	return collectParticipants(rows)
}

func collectParticipants(rows pgx.Rows) ([]domain.Participant, error) {
	defer rows.Close()
	out := make([]domain.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveParticipant inserts or updates a participant. Team capacity is enforced
// by the database.
func (r *Repository) SaveParticipant(ctx context.Context, p domain.Participant) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO participants (id, username, tz_offset_seconds, tz_label, team_id, tracker_password)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO UPDATE SET
            username = EXCLUDED.username,
            tz_offset_seconds = EXCLUDED.tz_offset_seconds,
            tz_label = EXCLUDED.tz_label,
            team_id = EXCLUDED.team_id,
            tracker_password = EXCLUDED.tracker_password`,
		p.ID, p.Username, p.TZOffsetSeconds, p.TZLabel, p.TeamID, p.TrackerPassword)
	return err
}

// CreateTeam inserts a team and returns it with its identifier.
func (r *Repository) CreateTeam(ctx context.Context, name, joinCode string) (*domain.Team, error) {
	team := domain.Team{Name: name, JoinCode: joinCode}
	err := r.pool.QueryRow(ctx, `INSERT INTO teams (name, join_code, capacity) VALUES ($1,$2,$3) RETURNING id, capacity`,
		name, joinCode, domain.TeamCapacity).Scan(&team.ID, &team.Capacity)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateTeam
		}
		return nil, err
	}
	return &team, nil
}

// GetTeam implements domain.TeamRepository.
func (r *Repository) GetTeam(ctx context.Context, id int64) (*domain.Team, error) {
	var team domain.Team
	err := r.pool.QueryRow(ctx, `SELECT id, name, join_code, capacity, eliminated_at FROM teams WHERE id = $1`, id).
		Scan(&team.ID, &team.Name, &team.JoinCode, &team.Capacity, &team.EliminatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &team, nil
}

// EliminateTeam sets the elimination marker only while it is null and records
// a team.eliminated event in the same transaction.
func (r *Repository) EliminateTeam(ctx context.Context, teamID int64, at time.Time) (won bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !won {
			tx.Rollback(ctx)
		}
	}()

	var name string
	err = tx.QueryRow(ctx, `UPDATE teams SET eliminated_at = $2 WHERE id = $1 AND eliminated_at IS NULL RETURNING name`, teamID, at.UTC()).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE id = $1)`, teamID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, domain.ErrTeamNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	aggregateID := fmt.Sprintf("%d", teamID)
	err = r.insertOutbox(ctx, tx, "team", aggregateID, aggregateID, aggregateID+":"+events.TypeTeamEliminated, events.TypeTeamEliminated, events.TeamEliminated{
		TeamID:       teamID,
		TeamName:     name,
		EliminatedAt: at.UTC(),
	})
	if err != nil {
		return false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// GetDailySummary implements domain.SummaryRepository.
func (r *Repository) GetDailySummary(ctx context.Context, participantID string, date time.Time) (*domain.DailySummary, error) {
	s := domain.DailySummary{}
	err := r.pool.QueryRow(ctx, `SELECT participant_id, team_id, date, payload, coded_seconds, updated_at
        FROM daily_summaries WHERE participant_id = $1 AND date = $2`, participantID, date).
		Scan(&s.ParticipantID, &s.TeamID, &s.Date, &s.Payload, &s.CodedSeconds, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpsertDailySummary replaces the summary for (participant, date) and records
// a summary.synced event.
func (r *Repository) UpsertDailySummary(ctx context.Context, s domain.DailySummary) (err error) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	if len(s.Payload) == 0 {
		s.Payload = json.RawMessage("null")
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `INSERT INTO daily_summaries (participant_id, date, team_id, payload, coded_seconds, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (participant_id, date) DO UPDATE SET
            team_id = EXCLUDED.team_id,
            payload = EXCLUDED.payload,
            coded_seconds = EXCLUDED.coded_seconds,
            updated_at = EXCLUDED.updated_at`,
		s.ParticipantID, s.Date, s.TeamID, []byte(s.Payload), s.CodedSeconds, s.UpdatedAt)
	if err != nil {
		return err
	}

	date := s.Date.Format(localday.DateLayout)
	dedupe := fmt.Sprintf("%s:%s:%d", s.ParticipantID, date, s.UpdatedAt.UnixNano())
	err = r.insertOutbox(ctx, tx, "participant", s.ParticipantID, s.ParticipantID, dedupe, events.TypeSummarySynced, events.SummarySynced{
		ParticipantID: s.ParticipantID,
		TeamID:        s.TeamID,
		Date:          date,
		CodedSeconds:  s.CodedSeconds,
		SyncedAt:      s.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListDailySummaries returns summaries within the inclusive date range.
func (r *Repository) ListDailySummaries(ctx context.Context, participantID string, from, to time.Time) ([]domain.DailySummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT participant_id, team_id, date, payload, coded_seconds, updated_at
        FROM daily_summaries WHERE participant_id = $1 AND date BETWEEN $2 AND $3
        ORDER BY date`, participantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DailySummary, 0)
	for rows.Next() {
		var s domain.DailySummary
		if err := rows.Scan(&s.ParticipantID, &s.TeamID, &s.Date, &s.Payload, &s.CodedSeconds, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, partitionKey, dedupeKey, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	route, err := r.catalog.Lookup(eventType)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		aggregateType,
		aggregateID,
		eventType,
		route.Topic,
		route.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

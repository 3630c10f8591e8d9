package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/events"
	"example.com/sockathon/internal/localday"
)

// Leaderboard reads the projection maintained by the leaderboard consumer.
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	query := `SELECT l.team_id, l.team_name, l.coded_seconds, l.eliminated_at,
            (SELECT COUNT(*) FROM participants p WHERE p.team_id = l.team_id)
        FROM leaderboard_entries l
        ORDER BY l.coded_seconds DESC, l.team_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LeaderboardEntry, 0)
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.TeamID, &e.TeamName, &e.CodedSeconds, &e.EliminatedAt, &e.Members); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplySummarySynced folds a summary.synced event into the projection. A day
// total replaces the previous total for the same participant and date, and
// older events never overwrite newer ones.
func (r *Repository) ApplySummarySynced(ctx context.Context, evt events.SummarySynced) (err error) {
	if evt.TeamID == nil {
		return nil
	}
	date, err := localday.ParseDate(evt.Date)
	if err != nil {
		return fmt.Errorf("parse event date: %w", err)
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

	_, err = tx.Exec(ctx, `INSERT INTO leaderboard_daily (participant_id, date, team_id, coded_seconds, synced_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (participant_id, date) DO UPDATE SET
            team_id = EXCLUDED.team_id,
            coded_seconds = EXCLUDED.coded_seconds,
            synced_at = EXCLUDED.synced_at
        WHERE leaderboard_daily.synced_at <= EXCLUDED.synced_at`,
		evt.ParticipantID, date, *evt.TeamID, evt.CodedSeconds, evt.SyncedAt)
	if err != nil {
		return err
	}

	if err = r.refreshTeamTotal(ctx, tx, *evt.TeamID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyTeamEliminated records the elimination marker in the projection.
func (r *Repository) ApplyTeamEliminated(ctx context.Context, evt events.TeamEliminated) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO leaderboard_entries (team_id, team_name, eliminated_at, updated_at)
        VALUES ($1,$2,$3,NOW())
        ON CONFLICT (team_id) DO UPDATE SET
            team_name = EXCLUDED.team_name,
            eliminated_at = COALESCE(leaderboard_entries.eliminated_at, EXCLUDED.eliminated_at),
            updated_at = NOW()`,
		evt.TeamID, evt.TeamName, evt.EliminatedAt.UTC())
	return err
}

func (r *Repository) refreshTeamTotal(ctx context.Context, tx pgx.Tx, teamID int64) error {
	_, err := tx.Exec(ctx, `INSERT INTO leaderboard_entries (team_id, team_name, coded_seconds, eliminated_at, updated_at)
        SELECT t.id, t.name,
            COALESCE((SELECT SUM(d.coded_seconds) FROM leaderboard_daily d WHERE d.team_id = t.id), 0),
            t.eliminated_at, $2
        FROM teams t WHERE t.id = $1
        ON CONFLICT (team_id) DO UPDATE SET
            team_name = EXCLUDED.team_name,
            coded_seconds = EXCLUDED.coded_seconds,
            eliminated_at = COALESCE(leaderboard_entries.eliminated_at, EXCLUDED.eliminated_at),
            updated_at = EXCLUDED.updated_at`, teamID, time.Now().UTC())
	return err
}

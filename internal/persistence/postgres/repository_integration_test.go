//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/events"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("sockathon"),
		postgrescontainer.WithUsername("sockathon"),
		postgrescontainer.WithPassword("sockathon"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	runMigrations(t, ctx, pool)
	return pool
}

func TestEliminateTeamIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(startPostgres(t))

	team, err := repo.CreateTeam(ctx, "Lint Rollers", "ABCD")
	require.NoError(t, err)
	_, err = repo.CreateTeam(ctx, "Lint Rollers", "WXYZ")
	require.ErrorIs(t, err, ErrDuplicateTeam)

	at := time.Date(2025, time.February, 12, 23, 59, 0, 0, time.UTC)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			won, err := repo.EliminateTeam(ctx, team.ID, at.Add(time.Duration(offset)*time.Second))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if won {
				wins++
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, errs)
	require.Equal(t, 1, wins)

	stored, err := repo.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TeamStateFailed, stored.State())

	var outboxRows int
	require.NoError(t, repo.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type = $1`, events.TypeTeamEliminated).Scan(&outboxRows))
	require.Equal(t, 1, outboxRows)

	_, err = repo.EliminateTeam(ctx, 9999, at)
	require.ErrorIs(t, err, domain.ErrTeamNotFound)
}

func TestSummaryUpsertReplacesAndRecordsEvents(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(startPostgres(t))

	team, err := repo.CreateTeam(ctx, "Sock Puppets", "SOCK")
	require.NoError(t, err)
	require.NoError(t, repo.SaveParticipant(ctx, domain.Participant{ID: "U0000000001", Username: "ada", TeamID: &team.ID}))

	date := time.Date(2025, time.February, 12, 0, 0, 0, 0, time.UTC)
	first := domain.DailySummary{
		ParticipantID: "U0000000001",
		TeamID:        &team.ID,
		Date:          date,
		Payload:       json.RawMessage(`{"categories":[{"key":"coding","total":600}]}`),
		CodedSeconds:  600,
		UpdatedAt:     time.Date(2025, time.February, 12, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.UpsertDailySummary(ctx, first))

	second := first
	second.Payload = json.RawMessage(`{"categories":[{"key":"coding","total":1000}]}`)
	second.CodedSeconds = 1000
	second.UpdatedAt = first.UpdatedAt.Add(time.Minute)
	require.NoError(t, repo.UpsertDailySummary(ctx, second))

	stored, err := repo.GetDailySummary(ctx, "U0000000001", date)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.EqualValues(t, 1000, stored.CodedSeconds)
	require.JSONEq(t, string(second.Payload), string(stored.Payload))

	days, err := repo.ListDailySummaries(ctx, "U0000000001", date.AddDate(0, 0, -1), date)
	require.NoError(t, err)
	require.Len(t, days, 1)

	missing, err := repo.GetDailySummary(ctx, "U0000000001", date.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Nil(t, missing)

	var outboxRows int
	require.NoError(t, repo.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type = $1`, events.TypeSummarySynced).Scan(&outboxRows))
	require.Equal(t, 2, outboxRows)
}

func TestCursorAdvanceAndRetries(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(startPostgres(t))
	at := time.Date(2025, time.February, 12, 9, 0, 0, 0, time.UTC)

	cursor, err := repo.LoadCursor(ctx, "heartbeats")
	require.NoError(t, err)
	require.Zero(t, cursor)

	require.NoError(t, repo.AdvanceCursor(ctx, "heartbeats", 50,
		[]domain.PendingRecord{{ParticipantID: "U1", RecordID: 40, RecordedAt: at}},
		[]domain.PendingRecord{{ParticipantID: "U2", RecordID: 50, RecordedAt: at}},
	))
	require.NoError(t, repo.AdvanceCursor(ctx, "heartbeats", 30, nil, nil))

	cursor, err = repo.LoadCursor(ctx, "heartbeats")
	require.NoError(t, err)
	require.EqualValues(t, 50, cursor)

	require.NoError(t, repo.AdvanceCursor(ctx, "heartbeats", 60,
		[]domain.PendingRecord{{ParticipantID: "U1", RecordID: 35, RecordedAt: at}}, nil))
	pending, err := repo.PendingRecords(ctx, "heartbeats")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.EqualValues(t, 40, pending[0].RecordID)

	require.NoError(t, repo.AdvanceCursor(ctx, "heartbeats", 60, nil,
		[]domain.PendingRecord{{ParticipantID: "U1", RecordID: 40, RecordedAt: at}}))
	pending, err = repo.PendingRecords(ctx, "heartbeats")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestActiveParticipantsAndCapacity(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(startPostgres(t))

	alive, err := repo.CreateTeam(ctx, "Alive", "LIVE")
	require.NoError(t, err)
	gone, err := repo.CreateTeam(ctx, "Gone", "GONE")
	require.NoError(t, err)

	for i, id := range []string{"U01", "U02", "U03", "U04", "U05", "U06"} {
		p := domain.Participant{ID: id, Username: id, TZOffsetSeconds: i * 3600, TeamID: &alive.ID}
		require.NoError(t, repo.SaveParticipant(ctx, p))
	}
	err = repo.SaveParticipant(ctx, domain.Participant{ID: "U07", TeamID: &alive.ID})
	require.Error(t, err, "seventh member must be rejected")

	require.NoError(t, repo.SaveParticipant(ctx, domain.Participant{ID: "U08", TeamID: &gone.ID}))
	require.NoError(t, repo.SaveParticipant(ctx, domain.Participant{ID: "U09"}))
	_, err = repo.EliminateTeam(ctx, gone.ID, time.Now())
	require.NoError(t, err)

	active, err := repo.ListActiveParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, active, domain.TeamCapacity)

	members, err := repo.TeamMembers(ctx, alive.ID)
	require.NoError(t, err)
	require.Len(t, members, domain.TeamCapacity)
	require.Equal(t, 5*3600, members[5].TZOffsetSeconds)

	missing, err := repo.GetParticipant(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLeaderboardProjection(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(startPostgres(t))

	team, err := repo.CreateTeam(ctx, "Heel Turn", "HEEL")
	require.NoError(t, err)
	require.NoError(t, repo.SaveParticipant(ctx, domain.Participant{ID: "U1", TeamID: &team.ID}))
	require.NoError(t, repo.SaveParticipant(ctx, domain.Participant{ID: "U2", TeamID: &team.ID}))

	synced := time.Date(2025, time.February, 12, 10, 0, 0, 0, time.UTC)
	apply := func(pid, date string, seconds int64, at time.Time) {
		require.NoError(t, repo.ApplySummarySynced(ctx, events.SummarySynced{
			ParticipantID: pid, TeamID: &team.ID, Date: date, CodedSeconds: seconds, SyncedAt: at,
		}))
	}
	apply("U1", "2025-02-12", 600, synced)
	apply("U1", "2025-02-12", 1200, synced.Add(time.Minute))
	apply("U1", "2025-02-12", 900, synced.Add(-time.Minute))
	apply("U1", "2025-02-11", 300, synced)
	apply("U2", "2025-02-12", 100, synced)

	board, err := repo.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	require.EqualValues(t, 1600, board[0].CodedSeconds)
	require.Equal(t, 2, board[0].Members)
	require.Nil(t, board[0].EliminatedAt)

	eliminatedAt := time.Date(2025, time.February, 12, 23, 59, 0, 0, time.UTC)
	require.NoError(t, repo.ApplyTeamEliminated(ctx, events.TeamEliminated{TeamID: team.ID, TeamName: "Heel Turn", EliminatedAt: eliminatedAt}))
	board, err = repo.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, board[0].EliminatedAt)
	require.True(t, board[0].EliminatedAt.Equal(eliminatedAt))
}

func runMigrations(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	contents, err := os.ReadFile(resolvePath(t, "../../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

//go:build integration

package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/events"
	"example.com/sockathon/internal/persistence/postgres"
)

func TestKafkaSummaryEventsProjectLeaderboard(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	repo := postgres.NewRepository(startPostgres(t, ctx))
	team, err := repo.CreateTeam(ctx, "Lint Rollers", "LINT")
	require.NoError(t, err)
	require.NoError(t, repo.SaveParticipant(ctx, domain.Participant{ID: "U0000000001", TeamID: &team.ID}))

	kafkaC, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0",
		testcontainers.WithEnv(map[string]string{"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	topic := events.DefaultSummaryTopic
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))

	writer := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, AllowAutoTopicCreation: true}
	defer writer.Close()

	synced := time.Date(2025, time.February, 12, 10, 0, 0, 0, time.UTC)
	publish := func(date string, seconds int64, at time.Time) {
		body, err := json.Marshal(events.SummarySynced{ParticipantID: "U0000000001", TeamID: &team.ID, Date: date, CodedSeconds: seconds, SyncedAt: at})
		require.NoError(t, err)
		value := make([]byte, 5+len(body))
		binary.BigEndian.PutUint32(value[1:5], 1)
		copy(value[5:], body)
		require.NoError(t, writer.WriteMessages(ctx, kafka.Message{
			Key:     []byte("U0000000001"),
			Value:   value,
			Headers: []kafka.Header{{Key: "event_type", Value: []byte(events.TypeSummarySynced)}},
		}))
	}
	publish("2025-02-11", 1200, synced)
	publish("2025-02-12", 300, synced)
	publish("2025-02-12", 960, synced.Add(time.Minute))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "sockathon-leaderboard-test",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewProcessor(reader, NewLeaderboardHandler(repo)).Run(runCtx) }()

	require.Eventually(t, func() bool {
		board, err := repo.Leaderboard(ctx, 10)
		return err == nil && len(board) == 1 && board[0].CodedSeconds == 2160
	}, time.Minute, 500*time.Millisecond)

	stop()
	require.ErrorIs(t, <-done, context.Canceled)
}

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("sockathon"),
		postgrescontainer.WithUsername("sockathon"),
		postgrescontainer.WithPassword("sockathon"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		p, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return false
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return false
		}
		pool = p
		return true
	}, 30*time.Second, time.Second)
	t.Cleanup(pool.Close)

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	contents, err := os.ReadFile(filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)
	return pool
}

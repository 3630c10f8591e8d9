// Command consumer folds summary and elimination events into the leaderboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/sockathon/internal/app"
	"example.com/sockathon/internal/config"
	"example.com/sockathon/internal/consumer"
	"example.com/sockathon/internal/persistence/postgres"
	httptransport "example.com/sockathon/internal/transport/http"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "consumer",
		Short:         "Maintain the team leaderboard from Kafka events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	rt, err := app.Bootstrap(ctx, configPath, "sockathon-consumer", (*config.Config).ValidateStreaming)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.Config, rt.Logger

	pool, err := app.OpenPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	handler := consumer.NewLeaderboardHandler(postgres.NewRepository(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httptransport.Serve(gctx, httptransport.NewMetricsServer(cfg.HTTP.MetricsAddress), 0, logger)
	})

	for _, topic := range []string{cfg.Kafka.SummaryTopic, cfg.Kafka.EliminationTopic} {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.Kafka.Brokers,
			GroupID:         cfg.Kafka.LeaderboardGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			MaxWait:         time.Second,
			RetentionTime:   7 * 24 * time.Hour,
			ReadLagInterval: -1,
		})
		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(logger.With("topic", topic)))

		g.Go(func() error {
			defer reader.Close()
			logger.Info("consumer started", "topic", topic, "group", cfg.Kafka.LeaderboardGroupID)
			return proc.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("consumer stopped")
	return nil
}

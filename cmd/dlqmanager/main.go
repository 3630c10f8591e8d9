// Command dlqmanager retries and quarantines outbox events that failed to publish.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/sockathon/internal/app"
	"example.com/sockathon/internal/config"
	"example.com/sockathon/internal/outbox"
	httptransport "example.com/sockathon/internal/transport/http"
)

const defaultBatchSize = 50

func main() {
	var (
		configPath string
		batchSize  int
	)

	rootCmd := &cobra.Command{
		Use:           "dlqmanager",
		Short:         "Replay dead-lettered outbox events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, batchSize)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", defaultBatchSize, "entries handled per poll")

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, batchSize int) error {
	rt, err := app.Bootstrap(ctx, configPath, "sockathon-dlqmanager", (*config.Config).Validate)
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

	manager := outbox.NewDLQManager(pool, cfg.DLQ.MaxRetries, cfg.DLQ.BaseDelay, outbox.WithDLQLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httptransport.Serve(gctx, httptransport.NewMetricsServer(cfg.HTTP.MetricsAddress), 0, logger)
	})
	g.Go(func() error {
		logger.Info("dlq manager started", "interval", cfg.DLQ.PollInterval, "max_retries", cfg.DLQ.MaxRetries)
		return manager.Run(gctx, cfg.DLQ.PollInterval, batchSize)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("dlq manager stopped")
	return nil
}

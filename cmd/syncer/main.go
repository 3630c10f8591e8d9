// Command syncer runs the periodic sync and elimination engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/sockathon/internal/app"
	"example.com/sockathon/internal/config"
	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/engine"
	"example.com/sockathon/internal/events"
	"example.com/sockathon/internal/ledger"
	"example.com/sockathon/internal/notify"
	"example.com/sockathon/internal/persistence/postgres"
	"example.com/sockathon/internal/timetracking"
	httptransport "example.com/sockathon/internal/transport/http"
)

func main() {
	var (
		configPath string
		once       bool
	)

	rootCmd := &cobra.Command{
		Use:           "syncer",
		Short:         "Sync coding activity and run the daily checkpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, once)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with credentials masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return config.Render(cmd.OutOrStdout(), cfg)
		},
	})

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, once bool) error {
	rt, err := app.Bootstrap(ctx, configPath, "sockathon-syncer", (*config.Config).ValidateSyncer)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.Config, rt.Logger

	start, end, err := cfg.Event.Bounds()
	if err != nil {
		return err
	}

	storePool, err := app.OpenPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer storePool.Close()

	ledgerPool, err := app.OpenPool(ctx, cfg.Database.LedgerURL)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer ledgerPool.Close()

	store := postgres.NewRepository(storePool,
		postgres.WithCatalog(events.NewCatalog(cfg.Kafka.SummaryTopic, cfg.Kafka.EliminationTopic)))

	tracker := timetracking.NewClient(cfg.TimeTracking.BaseURL, cfg.TimeTracking.AdminKey, cfg.TimeTracking.Timeout,
		timetracking.WithSignupEmail(cfg.TimeTracking.SignupEmail))

	var notifier domain.Notifier
	if cfg.Slack.DryRun {
		logger.Warn("slack dry run enabled, notifications are only logged")
		notifier = notify.NewLogNotifier(logger)
	} else {
		notifier = notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.APIURL)
	}

	rules := engine.Rules{
		ThresholdSeconds: cfg.Rules.ThresholdSeconds,
		WarningHour:      cfg.Rules.WarningHour,
		WarningMinute:    cfg.Rules.WarningMinute,
		FailureHour:      cfg.Rules.FailureHour,
		FailureMinute:    cfg.Rules.FailureMinute,
		EventStart:       start,
		EventEnd:         end,
		Channel:          cfg.Event.Channel,
	}

	eng := engine.New(ledger.New(ledgerPool, cfg.Sync.LedgerPageSize), tracker, store, notifier, rules,
		engine.WithLogger(logger),
		engine.WithTracer(rt.Tracer),
		engine.WithWorkers(cfg.Sync.Workers),
		engine.WithCursorName(cfg.Sync.CursorName),
		engine.WithKeyResolver(ledger.NewKeyResolver(cfg.Sync.ParticipantKeyLength)),
	)

	if once {
		report, err := eng.RunTick(ctx, time.Now())
		logger.Info("single tick finished", "tick_id", report.ID,
			"cursor", report.Cursor, "synced", report.Synced, "failed", report.Failed, "eliminations", report.Eliminations)
		return err
	}

	scheduler := engine.NewScheduler(eng, cfg.Sync.Interval,
		engine.WithRestartAfter(cfg.Sync.RestartInterval),
		engine.WithSchedulerLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httptransport.Serve(gctx, httptransport.NewMetricsServer(cfg.HTTP.MetricsAddress), 0, logger)
	})
	g.Go(func() error {
		logger.Info("syncer started",
			"interval", cfg.Sync.Interval, "restart_after", cfg.Sync.RestartInterval, "workers", cfg.Sync.Workers)
		return scheduler.Run(gctx)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, engine.ErrRestartDue):
		logger.Info("restart interval reached, exiting for supervisor restart")
		return nil
	case errors.Is(err, context.Canceled):
		logger.Info("syncer stopped")
		return nil
	default:
		return err
	}
}

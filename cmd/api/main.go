// Command api serves the read-only HTTP API and relays the outbox to Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"example.com/sockathon/internal/api"
	"example.com/sockathon/internal/app"
	"example.com/sockathon/internal/auth"
	"example.com/sockathon/internal/config"
	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/events"
	"example.com/sockathon/internal/outbox"
	"example.com/sockathon/internal/persistence/postgres"
	"example.com/sockathon/internal/summary"
	httptransport "example.com/sockathon/internal/transport/http"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "api",
		Short:         "Serve coded-seconds, team and leaderboard queries",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(newTokenCmd(&configPath))

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the read API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateAPI(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			token, err := auth.Sign(auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.JWTIssuer}, subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dashboard", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeRead}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	rt, err := app.Bootstrap(ctx, configPath, "sockathon-api", (*config.Config).ValidateAPI)
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

	repo := postgres.NewRepository(pool,
		postgres.WithCatalog(events.NewCatalog(cfg.Kafka.SummaryTopic, cfg.Kafka.EliminationTopic)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dispatcher *outbox.Dispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := outbox.NewKafkaProducer(cfg.Kafka.Brokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.Kafka.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize,
			outbox.WithLogger(logger))
		go dispatcher.Start(ctx)
	} else {
		logger.Warn("no kafka brokers configured, outbox relay disabled")
	}

	service := domain.NewService(repo, repo, repo, summary.NewCalculator(repo))

	mux := http.NewServeMux()
	api.NewHandler(service, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.JWTIssuer})
	serverCfg := httptransport.DefaultServerConfig(cfg.HTTP.Address)
	server := httptransport.NewServer(serverCfg, httptransport.RequestLogger(logger, authMiddleware.Wrap(mux)))

	err = httptransport.Serve(ctx, server, serverCfg.ShutdownTimeout, logger)
	cancel()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("api stopped")
	return nil
}

// Package app holds the start-up sequence shared by the binaries: config,
// logging, tracing and signal handling.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"example.com/sockathon/internal/config"
	"example.com/sockathon/internal/observability"
)

// Runtime is what every binary needs after start-up.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Tracer trace.Tracer

	shutdownTracing observability.ShutdownFunc
}

// Bootstrap loads and validates configuration, then sets up logging and
// tracing for service. A validation failure is returned as is so the process
// refuses to start.
func Bootstrap(ctx context.Context, configPath, service string, validate func(*config.Config) error) (*Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if validate != nil {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger := observability.NewLogger(os.Stdout, service, cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)

	tracer, shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  service,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{Config: cfg, Logger: logger, Tracer: tracer, shutdownTracing: shutdown}, nil
}

// Close flushes pending spans.
func (r *Runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.shutdownTracing(ctx); err != nil {
		r.Logger.Warn("tracer shutdown failed", "error", err)
	}
}

// OpenPool connects to Postgres and verifies the connection.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

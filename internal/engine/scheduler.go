package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRestartDue is returned by Scheduler.Run when the restart interval has
// elapsed. The process is expected to exit and be restarted by its supervisor.
var ErrRestartDue = errors.New("restart interval elapsed")

// TickRunner runs one tick.
type TickRunner interface {
	RunTick(ctx context.Context, now time.Time) (TickReport, error)
}

// Scheduler fires ticks on a fixed interval aligned to the wall clock and
// never lets two ticks overlap: a fire that finds the previous tick still
// running is skipped.
type Scheduler struct {
	runner       TickRunner
	interval     time.Duration
	restartAfter time.Duration
	logger       *slog.Logger
	clock        func() time.Time

	running  atomic.Bool
	inflight sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRestartAfter makes Run return ErrRestartDue after d. Zero disables it.
func WithRestartAfter(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.restartAfter = d
	}
}

// WithSchedulerLogger overrides the logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source passed to ticks.
func WithClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner TickRunner, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run fires ticks until ctx is cancelled or the restart interval elapses. The
// first fire happens at the next interval boundary so that minute checkpoints
// line up with the wall clock. Run waits for an in-flight tick before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.inflight.Wait()

	var restart <-chan time.Time
	if s.restartAfter > 0 {
		timer := time.NewTimer(s.restartAfter)
		defer timer.Stop()
		restart = timer.C
	}

	now := s.clock()
	align := time.NewTimer(now.Truncate(s.interval).Add(s.interval).Sub(now))
	defer align.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-restart:
		return ErrRestartDue
	case <-align.C:
	}

	s.Fire(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-restart:
			s.logger.Info("restart interval elapsed, stopping scheduler")
			return ErrRestartDue
		case <-ticker.C:
			s.Fire(ctx)
		}
	}
}

// Fire starts a tick in the background unless one is already running, and
// reports whether it started.
func (s *Scheduler) Fire(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		recordSkippedTick()
		s.logger.WarnContext(ctx, "previous tick still running, skipping")
		return false
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.running.Store(false)
		// Errors are logged by the engine; the next fire retries.
		_, _ = s.runner.RunTick(ctx, s.clock())
	}()
	return true
}

// Wait blocks until the in-flight tick, if any, has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

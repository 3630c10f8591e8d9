package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	release chan struct{}
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) RunTick(ctx context.Context, _ time.Time) (TickReport, error) {
	r.calls.Add(1)
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return TickReport{}, nil
}

func TestSchedulerSkipsFireWhileTickRunning(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, time.Hour)
	ctx := context.Background()

	skippedBefore := testutil.ToFloat64(skippedTicksCounter)

	require.True(t, s.Fire(ctx))
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, s.Fire(ctx))
	require.False(t, s.Fire(ctx))
	require.InDelta(t, skippedBefore+2, testutil.ToFloat64(skippedTicksCounter), 0.0001)

	close(runner.release)
	s.Wait()

	require.True(t, s.Fire(ctx))
	s.Wait()
	require.EqualValues(t, 2, runner.calls.Load())
	require.EqualValues(t, 1, runner.maxSeen.Load())
}

func TestSchedulerRunNeverOverlapsTicks(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 1, runner.calls.Load())

	close(runner.release)
	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.EqualValues(t, 1, runner.maxSeen.Load())
}

func TestSchedulerReturnsWhenRestartDue(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	s := NewScheduler(runner, time.Hour, WithRestartAfter(20*time.Millisecond))

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartDue)
	require.Zero(t, runner.calls.Load())
}

func TestSchedulerPassesClockToTick(t *testing.T) {
	fixed := time.Date(2025, time.February, 12, 23, 59, 0, 0, time.UTC)
	var got atomic.Value
	runner := tickFunc(func(_ context.Context, now time.Time) (TickReport, error) {
		got.Store(now)
		return TickReport{}, nil
	})
	s := NewScheduler(runner, time.Hour, WithClock(func() time.Time { return fixed }))

	require.True(t, s.Fire(context.Background()))
	s.Wait()
	require.Equal(t, fixed, got.Load())
}

type tickFunc func(ctx context.Context, now time.Time) (TickReport, error)

func (f tickFunc) RunTick(ctx context.Context, now time.Time) (TickReport, error) {
	return f(ctx, now)
}

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ticksCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sockathon",
		Subsystem: "sync",
		Name:      "ticks_total",
		Help:      "Number of ticks run, labelled by outcome.",
	}, []string{"result"})

	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sockathon",
		Subsystem: "sync",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of a complete tick.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	skippedTicksCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sockathon",
		Subsystem: "sync",
		Name:      "ticks_skipped_total",
		Help:      "Number of timer fires skipped because the previous tick was still running.",
	})

	participantSyncCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sockathon",
		Subsystem: "sync",
		Name:      "participant_syncs_total",
		Help:      "Per-participant summary syncs, labelled by outcome.",
	}, []string{"result"})

	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sockathon",
		Subsystem: "sync",
		Name:      "pending_participants",
		Help:      "Participants whose last sync failed and will be retried next tick.",
	})

	notificationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sockathon",
		Subsystem: "engine",
		Name:      "notifications_total",
		Help:      "Notifications emitted by the engine, labelled by kind and delivery result.",
	}, []string{"kind", "result"})

	eliminationsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sockathon",
		Subsystem: "engine",
		Name:      "teams_eliminated_total",
		Help:      "Number of teams eliminated by this process.",
	})
)

func init() {
	prometheus.MustRegister(
		ticksCounter,
		tickDuration,
		skippedTicksCounter,
		participantSyncCounter,
		pendingGauge,
		notificationsCounter,
		eliminationsCounter,
	)
}

const (
	tickResultOK          = "ok"
	tickResultLedgerError = "ledger_error"
	tickResultStoreError  = "store_error"

	syncResultSynced  = "synced"
	syncResultFailed  = "failed"
	syncResultUnknown = "unknown"

	notifyThreshold   = "threshold"
	notifyWarning     = "warning"
	notifyElimination = "elimination"
	notifyBroadcast   = "broadcast"
)

func recordTick(result string, elapsed time.Duration) {
	ticksCounter.WithLabelValues(result).Inc()
	tickDuration.Observe(elapsed.Seconds())
}

func recordSkippedTick() {
	skippedTicksCounter.Inc()
}

func recordParticipantSync(result string) {
	participantSyncCounter.WithLabelValues(result).Inc()
}

func recordPending(n int) {
	pendingGauge.Set(float64(n))
}

func recordNotification(kind string, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	notificationsCounter.WithLabelValues(kind, result).Inc()
}

func recordElimination() {
	eliminationsCounter.Inc()
}

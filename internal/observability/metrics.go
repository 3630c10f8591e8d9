package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tickCompletedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sockathon",
		Subsystem: "sync",
		Name:      "last_tick_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent sync tick that finished.",
	})
	cursorGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sockathon",
		Subsystem: "sync",
		Name:      "ledger_cursor",
		Help:      "Greatest ledger record id consumed by the syncer.",
	})
)

func init() {
	prometheus.MustRegister(tickCompletedGauge, cursorGauge)
}

// RecordTickCompleted updates the tick watermark gauge.
func RecordTickCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	tickCompletedGauge.Set(float64(ts.Unix()))
}

// RecordCursor publishes the persisted ledger cursor.
func RecordCursor(cursor int64) {
	cursorGauge.Set(float64(cursor))
}

package notify

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/sockathon/internal/domain"
)

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sockathon",
		Subsystem: "notify",
		Name:      "messages_delivered_total",
		Help:      "Number of notifications accepted by the chat platform, by target kind.",
	}, []string{"kind"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sockathon",
		Subsystem: "notify",
		Name:      "messages_failed_total",
		Help:      "Number of notifications the chat platform rejected or never received.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter)
}

func recordDelivered(kind domain.TargetKind) {
	deliveredCounter.WithLabelValues(string(kind)).Inc()
}

func recordDeliveryFailure(kind domain.TargetKind) {
	failedCounter.WithLabelValues(string(kind)).Inc()
}

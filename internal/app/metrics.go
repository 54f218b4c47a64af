package app

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	transitions   *prometheus.CounterVec
	reviewActions *prometheus.CounterVec
	txDuration    *prometheus.HistogramVec

	outboxDispatch *prometheus.CounterVec
	outboxPending  prometheus.Gauge
	outboxPurged   prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disbursement",
			Name:      "status_transitions_total",
			Help:      "Transfer request status transitions.",
		}, []string{"from", "to"}),
		reviewActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disbursement",
			Name:      "review_actions_total",
			Help:      "Approver review actions by outcome.",
		}, []string{"action", "outcome"}),
		txDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "disbursement",
			Name:      "operation_duration_seconds",
			Help:      "Latency of transactional use cases.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "result"}),
		outboxDispatch: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disbursement",
			Subsystem: "outbox",
			Name:      "dispatch_total",
			Help:      "Outbox publish attempts by result.",
		}, []string{"routing_key", "result"}),
		outboxPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "disbursement",
			Subsystem: "outbox",
			Name:      "pending",
			Help:      "Outbox rows not yet published.",
		}),
		outboxPurged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "disbursement",
			Subsystem: "outbox",
			Name:      "purged_total",
			Help:      "Published outbox rows removed by the cleanup job.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

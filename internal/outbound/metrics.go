package outbound

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drain kinds, used as the "kind" metric label.
const (
	KindChatMessage = "chat_message"
	KindReceipt     = "receipt"
	KindTimedTask   = "timed_task"
	KindPending     = "pending_operation"
	KindPushToken   = "push_token"
	KindResync      = "resync"
)

// Outcome label values.
const (
	OutcomeProcessed   = "processed"
	OutcomeRecoverable = "recoverable"
	OutcomeFatal       = "fatal"
)

type metrics struct {
	outcomes     *prometheus.CounterVec
	passes       prometheus.Counter
	passDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Subsystem: "outbound",
				Name:      "records_total",
				Help:      "Queue records handled by the outbound service.",
			},
			[]string{"kind", "outcome"},
		),
		passes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "outbound",
			Name:      "passes_total",
			Help:      "Completed outbound passes.",
		}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "courier",
			Subsystem: "outbound",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one outbound pass over all queues.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *metrics) record(kind, outcome string) {
	m.outcomes.WithLabelValues(kind, outcome).Inc()
}

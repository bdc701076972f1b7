package review

import (
	"time"

	"reviewhub/pkg/errutil"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	claims     prometheus.Counter
	proofs     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewhub",
			Subsystem: "review",
			Name:      "operations_total",
			Help:      "Task lifecycle operations by result code.",
		}, []string{"operation", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reviewhub",
			Subsystem: "review",
			Name:      "operation_duration_seconds",
			Help:      "Task lifecycle operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reviewhub",
			Subsystem: "review",
			Name:      "tasks_claimed_total",
			Help:      "Tasks successfully claimed.",
		}),
		proofs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reviewhub",
			Subsystem: "review",
			Name:      "proofs_submitted_total",
			Help:      "Proofs successfully submitted.",
		}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.duration, m.claims, m.proofs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = string(errutil.StatusOf(err))
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

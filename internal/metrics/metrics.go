package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels accepted operations.
	OutcomeSuccess = "success"
	// OutcomeError labels rejected or failed operations.
	OutcomeError = "error"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_ir",
			Name:      "operations_total",
			Help:      "Total number of engine operations handled, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	operationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_ir",
			Name:      "operation_seconds",
			Help:      "Engine operation latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	auditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_ir",
			Name:      "audit_records_total",
			Help:      "Audit records appended, partitioned by retention policy.",
		},
		[]string{"policy"},
	)

	auditDiscardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_ir",
			Name:      "audit_discarded_total",
			Help:      "Audit events dropped because no enabled configuration accepted them.",
		},
	)

	incidentsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_ir",
			Name:      "incidents_open",
			Help:      "Incidents not in the Closed status.",
		},
	)
)

// Register attaches mirador-ir collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		operationsTotal,
		operationDurationSeconds,
		auditRecordsTotal,
		auditDiscardedTotal,
		incidentsOpen,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOperation records an operation duration and outcome label.
func ObserveOperation(operation string, duration time.Duration, err error) {
	label := OutcomeSuccess
	if err != nil {
		label = OutcomeError
	}
	operationsTotal.WithLabelValues(operation, label).Inc()
	if duration < 0 {
		duration = 0
	}
	operationDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveAuditRecord counts an appended audit record.
func ObserveAuditRecord(policy string) {
	auditRecordsTotal.WithLabelValues(policy).Inc()
}

// ObserveAuditDiscarded counts an audit event no configuration accepted.
func ObserveAuditDiscarded() {
	auditDiscardedTotal.Inc()
}

// SetIncidentsOpen publishes the number of incidents that are not closed.
func SetIncidentsOpen(n int) {
	incidentsOpen.Set(float64(n))
}

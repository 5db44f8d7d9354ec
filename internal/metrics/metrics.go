// Package metrics exposes prometheus instruments for the scenario engines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OpCreate   = "create"
	OpSteal    = "steal"
	OpShield   = "shield"
	OpRecover  = "recover"
	OpResolve  = "resolve"
	OpCancel   = "cancel"
	OpClose    = "close"
	OpReview   = "review"
	OpAdjust   = "adjust"
	OpDispatch = "dispatch"
)

const (
	ResultSuccess    = "success"
	ResultValidation = "validation"
	ResultConflict   = "conflict"
	ResultError      = "error"
)

// EngineMetrics counts engine operations by outcome, their latency and the
// currency flowing into pools.
type EngineMetrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	poolInflow    *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewEngineMetrics registers the instruments on reg.  A nil reg skips
// registration, which keeps tests independent of the default registry.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenario_operations_total",
			Help: "Scenario engine operations by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scenario_operation_seconds",
			Help:    "Latency of scenario engine operations including the database transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		poolInflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenario_pool_inflow_total",
			Help: "Currency paid into scenario pools by operation.",
		}, []string{"op"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenario_notifications_total",
			Help: "Notification dispatch attempts by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.poolInflow, m.notifications)
	}
	return m
}

// Observe records one finished operation.
func (m *EngineMetrics) Observe(op, result string, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// PoolInflow adds amount paid into a pool by op.
func (m *EngineMetrics) PoolInflow(op string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.poolInflow.WithLabelValues(op).Add(float64(amount))
}

// Notification counts a dispatch attempt.
func (m *EngineMetrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

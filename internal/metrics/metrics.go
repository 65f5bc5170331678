// Package metrics holds the prometheus collectors of the deduction engine,
// the rate registry and the audit recorder. Every method is safe on a nil
// *Metrics so components can run unobserved.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payroll"

type Metrics struct {
	Calculations        *prometheus.CounterVec
	CalculationDuration prometheus.Histogram
	RateMutations       *prometheus.CounterVec
	AuditAppends        *prometheus.CounterVec
	AuditRetries        prometheus.Counter
	AuditEscalations    *prometheus.CounterVec
	AuditPublishErrors  prometheus.Counter
}

// New registers all collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Calculations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculations_total",
			Help:      "Deduction calculations by mode and outcome",
		}, []string{"mode", "outcome"}),
		CalculationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calculation_duration_seconds",
			Help:      "Duration of resolve plus calculate",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		RateMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_mutations_total",
			Help:      "Rate set mutations by action and outcome",
		}, []string{"action", "outcome"}),
		AuditAppends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_appends_total",
			Help:      "Audit appends by outcome",
		}, []string{"outcome"}),
		AuditRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_retries_total",
			Help:      "Audit append attempts after the first",
		}),
		AuditEscalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_escalations_total",
			Help:      "Audit entries sent to the escalation queue by outcome",
		}, []string{"outcome"}),
		AuditPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_publish_errors_total",
			Help:      "Audit entries that could not be published downstream",
		}),
	}
}

func (m *Metrics) ObserveCalculation(mode, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Calculations.WithLabelValues(mode, outcome).Inc()
	m.CalculationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncRateMutation(action, outcome string) {
	if m == nil {
		return
	}
	m.RateMutations.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncAuditAppend(outcome string) {
	if m == nil {
		return
	}
	m.AuditAppends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAuditRetry() {
	if m == nil {
		return
	}
	m.AuditRetries.Inc()
}

func (m *Metrics) IncAuditEscalation(outcome string) {
	if m == nil {
		return
	}
	m.AuditEscalations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAuditPublishError() {
	if m == nil {
		return
	}
	m.AuditPublishErrors.Inc()
}

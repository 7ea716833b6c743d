package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — бизнес-метрики отгрузок. Все методы безопасны для nil-получателя,
// поэтому в тестах движок собирается без метрик.
type Metrics struct {
	scans         *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	commits       *prometheus.CounterVec
	compensations *prometheus.CounterVec
	sessions      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipments",
			Name:      "scans_total",
			Help:      "Scanned codes by outcome.",
		}, []string{"outcome"}),
		batchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipments",
			Name:      "batch_duration_seconds",
			Help:      "Batch scan wall time by terminal event.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipments",
			Name:      "commits_total",
			Help:      "Shipment confirmations by result.",
		}, []string{"result"}),
		compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipments",
			Name:      "compensations_total",
			Help:      "Manual stock reversals after failed code commits.",
		}, []string{"result"}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipments",
			Name:      "sessions_total",
			Help:      "Session lifecycle transitions.",
		}, []string{"transition"}),
	}
}

func (m *Metrics) Scan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Batch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(result).Observe(seconds)
}

func (m *Metrics) Commit(result string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
}

func (m *Metrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) Session(transition string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transition).Inc()
}

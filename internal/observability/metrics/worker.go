package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SyncMetrics struct {
	registry *prometheus.Registry

	runTotal        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runInFlight     prometheus.Gauge
	invoiceOutcomes *prometheus.CounterVec
}

func NewSyncMetrics(service string) *SyncMetrics {
	registry := prometheus.NewRegistry()

	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildtracking",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total ingestion runs by final status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildtracking",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Ingestion run duration in seconds by final status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	runInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildtracking",
			Subsystem: "sync",
			Name:      "runs_in_flight",
			Help:      "Number of ingestion runs currently executing.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	invoiceOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildtracking",
			Subsystem: "sync",
			Name:      "invoice_outcomes_total",
			Help:      "Per-invoice pipeline outcomes across all runs.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(runTotal, runDuration, runInFlight, invoiceOutcomes)

	return &SyncMetrics{
		registry:        registry,
		runTotal:        runTotal,
		runDuration:     runDuration,
		runInFlight:     runInFlight,
		invoiceOutcomes: invoiceOutcomes,
	}
}

func (m *SyncMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *SyncMetrics) StartRun() {
	m.runInFlight.Inc()
}

func (m *SyncMetrics) FinishRun(service, status string, duration time.Duration) {
	m.runInFlight.Dec()
	m.runTotal.WithLabelValues(service, status).Inc()
	m.runDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *SyncMetrics) ObserveOutcomes(service string, created, updated, autoAssigned, pendingReview, failed int) {
	add := func(outcome string, n int) {
		if n > 0 {
			m.invoiceOutcomes.WithLabelValues(service, outcome).Add(float64(n))
		}
	}
	add("created", created)
	add("updated", updated)
	add("auto_assigned", autoAssigned)
	add("pending_review", pendingReview)
	add("failed", failed)
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "floodreport"

// Metrics holds the Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	Submissions *prometheus.CounterVec // labels: outcome={accepted,invalid,quota,photo,storage_error}

	MirrorWrites          *prometheus.CounterVec // labels: outcome={synced,retry,failed}
	MirrorAttemptDuration prometheus.Histogram
	MirrorOnline          prometheus.Gauge
	MirrorQueueDepth      prometheus.Gauge

	ReconcileRuns    *prometheus.CounterVec // labels: outcome={ok,error}
	ReconcileReports *prometheus.CounterVec // labels: status={synced,failed}
}

func build() *Metrics {
	return &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Report submissions by outcome.",
		}, []string{"outcome"}),
		MirrorWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_writes_total",
			Help:      "Remote mirror write attempts by outcome.",
		}, []string{"outcome"}),
		MirrorAttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mirror_attempt_duration_seconds",
			Help:      "Duration of a single remote mirror write attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		MirrorOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_online",
			Help:      "1 when the remote mirror is reachable, 0 when offline.",
		}),
		MirrorQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_queue_depth",
			Help:      "Reports waiting for a background mirror worker.",
		}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation sweeps by outcome.",
		}, []string{"outcome"}),
		ReconcileReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_reports_total",
			Help:      "Reports retried by the reconciliation sweep, by resulting status.",
		}, []string{"status"}),
	}
}

// NewMetrics creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer in production).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := build()
	reg.MustRegister(
		m.Submissions,
		m.MirrorWrites,
		m.MirrorAttemptDuration,
		m.MirrorOnline,
		m.MirrorQueueDepth,
		m.ReconcileRuns,
		m.ReconcileReports,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return build()
}

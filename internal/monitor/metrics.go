package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the platform.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal              *prometheus.CounterVec
	RunDuration            *prometheus.HistogramVec
	RunErrors              *prometheus.CounterVec
	ActiveRuns             prometheus.Gauge
	QueuedRuns             prometheus.Gauge
	ValidationIssues       *prometheus.CounterVec
	DeploymentsActive      prometheus.Gauge
	SchedulerArmedTriggers prometheus.Gauge
	RequestsInFlight       prometheus.Gauge
	ScriptSizeBytes        prometheus.Histogram
	OutputSizeBytes        prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scriptflow",
				Name:      "runs_total",
				Help:      "Total script runs by trigger source and terminal status.",
			},
			[]string{"trigger", "status"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scriptflow",
				Name:      "run_duration_seconds",
				Help:      "Duration of script runs in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"trigger"},
		),

		RunErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scriptflow",
				Name:      "run_errors_total",
				Help:      "Total run failures by error type.",
			},
			[]string{"type"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scriptflow",
				Name:      "active_runs",
				Help:      "Number of currently executing runs.",
			},
		),

		QueuedRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scriptflow",
				Name:      "queued_runs",
				Help:      "Number of runs waiting for a worker.",
			},
		),

		ValidationIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scriptflow",
				Name:      "validation_issues_total",
				Help:      "Total validation findings by severity and code.",
			},
			[]string{"severity", "code"},
		),

		DeploymentsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scriptflow",
				Name:      "deployments_active",
				Help:      "Number of deployments in the active state.",
			},
		),

		SchedulerArmedTriggers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scriptflow",
				Name:      "scheduler_armed_triggers",
				Help:      "Number of schedule triggers with an armed timer.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scriptflow",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		ScriptSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "scriptflow",
				Name:      "script_size_bytes",
				Help:      "Size of submitted scripts in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "scriptflow",
				Name:      "output_size_bytes",
				Help:      "Size of run output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunErrors,
		m.ActiveRuns,
		m.QueuedRuns,
		m.ValidationIssues,
		m.DeploymentsActive,
		m.SchedulerArmedTriggers,
		m.RequestsInFlight,
		m.ScriptSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordRun records metrics for a completed run.
func (m *Metrics) RecordRun(trigger, status string, durationSec float64) {
	m.RunsTotal.WithLabelValues(trigger, status).Inc()
	m.RunDuration.WithLabelValues(trigger).Observe(durationSec)
}

// RecordError records a run failure by type.
func (m *Metrics) RecordError(errType string) {
	m.RunErrors.WithLabelValues(errType).Inc()
}

// RecordValidationIssue records one gate finding.
func (m *Metrics) RecordValidationIssue(severity, code string) {
	m.ValidationIssues.WithLabelValues(severity, code).Inc()
}

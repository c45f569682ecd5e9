// Package metrics defines the Prometheus gauges/counters the pipeline
// exposes at /admin/prometheus, grounded on fairyhunter13's
// internal/adapter/observability package (package-level prometheus.NewXVec
// vars registered in an init-time MustRegister block).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// JobsEnqueuedTotal counts C6 submissions by kind.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued by kind",
		},
		[]string{"kind"},
	)
	// JobsCompletedTotal counts C7 successful completions by kind.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed by kind",
		},
		[]string{"kind"},
	)
	// JobsFailedTotal counts C7 permanent failures by kind and error kind.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed by kind and error kind",
		},
		[]string{"kind", "error_kind"},
	)
	// QuotaAdmissionRejectionsTotal counts C6 quota_exceeded rejections by kind.
	QuotaAdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_admission_rejections_total",
			Help: "Total number of submissions rejected for quota_exceeded",
		},
		[]string{"kind"},
	)
	// BackendInflightCalls is a gauge of in-flight C5 calls, asserting
	// Testable Property 3 (never exceeds backend.max_concurrency).
	BackendInflightCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backend_inflight_calls",
			Help: "Number of generation backend calls currently in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(QuotaAdmissionRejectionsTotal)
	prometheus.MustRegister(BackendInflightCalls)
}

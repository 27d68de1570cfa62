// Package metrics exposes the Prometheus gauges and counters the dispatcher
// and sandbox update as submissions move through the system, grounded on
// the package-level prometheus.New* style surveyed in cuemby-warren's
// pkg/metrics/metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// QueueSize tracks the current number of queued submissions.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "goxec_queue_size",
		Help: "Current number of submissions waiting in the task queue.",
	})

	// ContainerCount tracks the current number of in-flight containers.
	ContainerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "goxec_container_count",
		Help: "Current number of running sandbox containers.",
	})

	// SubmissionsAccepted counts submissions that were successfully enqueued.
	SubmissionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goxec_submissions_accepted_total",
		Help: "Total number of submissions accepted into the task queue.",
	})

	// SubmissionsRejected counts submissions rejected at admission time, by reason.
	SubmissionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "goxec_submissions_rejected_total",
		Help: "Total number of submissions rejected at admission time.",
	}, []string{"reason"})

	// SandboxRunDuration observes the wall-clock duration of a Sandbox.Run call.
	SandboxRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "goxec_sandbox_run_duration_seconds",
		Help:    "Duration of a single sandbox container lifecycle.",
		Buckets: prometheus.DefBuckets,
	})

	// SandboxResultsTotal counts completed sandbox runs by result status.
	SandboxResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "goxec_sandbox_results_total",
		Help: "Total number of sandbox results by status.",
	}, []string{"status"})
)

// Register registers every collector above against reg. Call once at
// startup; a fresh prometheus.Registry is passed in rather than relying on
// the global default so tests can register independent instances.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(
		QueueSize,
		ContainerCount,
		SubmissionsAccepted,
		SubmissionsRejected,
		SandboxRunDuration,
		SandboxResultsTotal,
	)
}

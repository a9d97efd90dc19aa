// Package metrics exposes Prometheus collectors for the hosting layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	daemonTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hosting_layer",
			Subsystem: "deployer",
			Name:      "daemon_transitions_total",
			Help:      "Daemon lifecycle transitions by source and target status.",
		},
		[]string{"from", "to"},
	)

	deployTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hosting_layer",
			Subsystem: "deployer",
			Name:      "deploy_tasks_total",
			Help:      "Deploy tasks processed by the queue worker.",
		},
		[]string{"kind", "result"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hosting_layer",
			Subsystem: "deployer",
			Name:      "deploy_queue_depth",
			Help:      "Pending tasks in the deploy queue.",
		},
	)

	managerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hosting_layer",
			Subsystem: "deployer",
			Name:      "manager_failures_total",
			Help:      "Failed calls to the remote daemon manager.",
		},
	)

	reconciledTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hosting_layer",
			Subsystem: "billing",
			Name:      "reconciled_transfers_total",
			Help:      "Transfer events processed by the reconciliation loop.",
		},
		[]string{"result"},
	)

	creditedCogs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hosting_layer",
			Subsystem: "billing",
			Name:      "credited_cogs_total",
			Help:      "Total cogs credited to account balances.",
		},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hosting_layer",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		daemonTransitions,
		deployTasks,
		queueDepth,
		managerFailures,
		reconciledTransfers,
		creditedCogs,
		jobDuration,
	)
}

// Handler serves the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// DaemonTransition records a lifecycle state change.
func DaemonTransition(from, to string) {
	daemonTransitions.WithLabelValues(from, to).Inc()
}

// DeployTask records one processed deploy task.
func DeployTask(kind, result string) {
	deployTasks.WithLabelValues(kind, result).Inc()
}

// SetQueueDepth updates the deploy queue gauge.
func SetQueueDepth(depth int64) {
	queueDepth.Set(float64(depth))
}

// ManagerFailure counts a failed remote daemon manager call.
func ManagerFailure() {
	managerFailures.Inc()
}

// ReconciledTransfer records one transfer event outcome
// (credited, skipped, amount_mismatch, integrity_error).
func ReconciledTransfer(result string) {
	reconciledTransfers.WithLabelValues(result).Inc()
}

// CreditedCogs adds to the credited amount counter.
func CreditedCogs(amount int64) {
	if amount > 0 {
		creditedCogs.Add(float64(amount))
	}
}

// ObserveJob records a scheduled job run duration.
func ObserveJob(job string, seconds float64) {
	jobDuration.WithLabelValues(job).Observe(seconds)
}

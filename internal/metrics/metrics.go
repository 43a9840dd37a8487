// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts HTTP requests by route, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs pushed onto a queue.",
		},
		[]string{"queue"},
	)

	// JobExecutionTotal counts executions by queue and final status (finished/failed).
	JobExecutionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_executions_total",
			Help: "Total number of job executions.",
		},
		[]string{"queue", "status"},
	)

	BatchesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batches_created_total",
			Help: "Total number of batches created.",
		},
	)

	BatchesPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batches_pruned_total",
			Help: "Total number of empty batches removed from the registry.",
		},
	)

	StaleMembersRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_stale_members_removed_total",
			Help: "Total number of expired or deleted job ids removed from batch membership sets.",
		},
	)

	// LiveBatches is the registry size observed by the last maintenance pass.
	LiveBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batches_live",
			Help: "Number of batches in the registry after the last maintenance pass.",
		},
	)

	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maintenance_runs_total",
			Help: "Total number of maintenance passes by outcome (ok/error/skipped).",
		},
		[]string{"outcome"},
	)
)

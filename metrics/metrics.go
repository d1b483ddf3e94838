// Package metrics exposes the Prometheus instrumentation for the
// orchestration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStarted counts job runner launches.
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventoryd_jobs_started_total",
		Help: "Number of inventory jobs started, by provider and scope.",
	}, []string{"provider", "scope"})

	// JobsFinished counts terminal jobs by outcome.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventoryd_jobs_finished_total",
		Help: "Number of inventory jobs finished, by provider, scope, and final status.",
	}, []string{"provider", "scope", "status"})

	// HostCollections counts per-host outcomes inside jobs.
	HostCollections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventoryd_host_collections_total",
		Help: "Number of per-host collection attempts, by provider and resulting state.",
	}, []string{"provider", "state"})

	// SnapshotTimestamp tracks the generated_at of the latest snapshot so
	// alerting can derive staleness.
	SnapshotTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inventoryd_snapshot_generated_timestamp_seconds",
		Help: "Unix timestamp of the most recent snapshot, by provider and scope.",
	}, []string{"provider", "scope"})

	// RunnersActive tracks runners currently holding a global semaphore slot.
	RunnersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inventoryd_runners_active",
		Help: "Job runners currently executing, by provider.",
	}, []string{"provider"})
)

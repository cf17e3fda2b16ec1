// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProposalsTotal counts proposal decisions by importer and outcome
	// (proposed, replaced, blocked, error).
	ProposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factbase_proposals_total",
			Help: "Field proposal decisions by importer and outcome",
		},
		[]string{"importer", "outcome"},
	)

	// BaselineRunsTotal counts baseline scheduler invocations by result.
	BaselineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factbase_baseline_runs_total",
			Help: "Auto-propose baseline invocations by result",
		},
		[]string{"result"},
	)

	// HealthStatusTotal counts health evaluations by resulting status.
	HealthStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factbase_health_status_total",
			Help: "Health evaluations by resulting status",
		},
		[]string{"status"},
	)

	// MaterializeSeconds times graph materialization.
	MaterializeSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "factbase_materialize_seconds",
			Help:    "Graph materialization latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Outcome labels for ProposalsTotal.
const (
	OutcomeProposed = "proposed"
	OutcomeReplaced = "replaced"
	OutcomeBlocked  = "blocked"
	OutcomeError    = "error"
)

// RecordProposal adds one batch's tallies to ProposalsTotal.
func RecordProposal(importer string, proposed, replaced, blocked, errs int) {
	add := func(outcome string, n int) {
		if n > 0 {
			ProposalsTotal.WithLabelValues(importer, outcome).Add(float64(n))
		}
	}
	add(OutcomeProposed, proposed)
	add(OutcomeReplaced, replaced)
	add(OutcomeBlocked, blocked)
	add(OutcomeError, errs)
}

// Package metrics holds the Prometheus collectors of the decision service.
// They register on the default registry and are served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/scenepilot/scenepilot/pkg/models"
)

var (
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenepilot_decisions_total",
			Help: "Routing decisions by action and intent",
		},
		[]string{"action", "intent"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scenepilot_turn_duration_seconds",
			Help:    "End-to-end latency of one turn",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"action"},
	)

	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenepilot_retrievals_total",
			Help: "Retrieval-path outcomes (answer, refusal, infra_error)",
		},
		[]string{"outcome"},
	)

	RejectedInputsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenepilot_rejected_inputs_total",
			Help: "Utterances rejected by input guardrails",
		},
		[]string{"kind"},
	)

	TurnsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scenepilot_turns_in_flight",
			Help: "Turns currently being processed",
		},
	)
)

// ObserveDecision records one completed turn.
func ObserveDecision(d *models.RoutingDecision, elapsed time.Duration) {
	DecisionsTotal.WithLabelValues(string(d.Action), string(d.Intent)).Inc()
	TurnDuration.WithLabelValues(string(d.Action)).Observe(elapsed.Seconds())
	if outcome, ok := retrievalOutcome(d); ok {
		RetrievalsTotal.WithLabelValues(outcome).Inc()
	}
}

// retrievalOutcome classifies decisions that went through retrieval.
func retrievalOutcome(d *models.RoutingDecision) (string, bool) {
	switch {
	case d.Action == models.ActionInfo && len(d.Sources) > 0:
		return "answer", true
	case d.Action == models.ActionRefusal && d.Reason != "":
		return "refusal", true
	case d.Action == models.ActionInfraError:
		return "infra_error", true
	}
	return "", false
}

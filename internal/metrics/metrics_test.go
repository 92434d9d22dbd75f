package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/scenepilot/scenepilot/pkg/models"
	"github.com/stretchr/testify/assert"
)

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func TestObserveDecision(t *testing.T) {
	tool := DecisionsTotal.WithLabelValues(string(models.ActionTool), string(models.IntentControlOn))
	answers := RetrievalsTotal.WithLabelValues("answer")
	before, beforeAnswers := counterValue(tool), counterValue(answers)

	ObserveDecision(&models.RoutingDecision{Action: models.ActionTool, Intent: models.IntentControlOn}, 3*time.Millisecond)
	ObserveDecision(&models.RoutingDecision{
		Action:  models.ActionInfo,
		Intent:  models.IntentInfoDefinition,
		Sources: []models.FusedResult{{ChunkID: "c1"}},
	}, 20*time.Millisecond)

	assert.Equal(t, before+1, counterValue(tool))
	assert.Equal(t, beforeAnswers+1, counterValue(answers))
}

func TestRetrievalOutcome(t *testing.T) {
	_, ok := retrievalOutcome(&models.RoutingDecision{Action: models.ActionClarification})
	assert.False(t, ok)

	o, ok := retrievalOutcome(&models.RoutingDecision{Action: models.ActionInfraError})
	assert.True(t, ok)
	assert.Equal(t, "infra_error", o)

	o, _ = retrievalOutcome(&models.RoutingDecision{Action: models.ActionRefusal, Reason: "no relevant knowledge"})
	assert.Equal(t, "refusal", o)
}

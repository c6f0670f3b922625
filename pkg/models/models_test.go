package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowStatusTransitions(t *testing.T) {
	allowed := []struct {
		from WorkflowStatus
		to   WorkflowStatus
	}{
		{WorkflowStatusDraft, WorkflowStatusActive},
		{WorkflowStatusActive, WorkflowStatusPaused},
		{WorkflowStatusPaused, WorkflowStatusActive},
		{WorkflowStatusActive, WorkflowStatusArchived},
		{WorkflowStatusPaused, WorkflowStatusArchived},
	}

	for _, transition := range allowed {
		assert.True(t, transition.from.CanTransitionTo(transition.to),
			"%s -> %s should be allowed", transition.from, transition.to)
	}

	statuses := []WorkflowStatus{
		WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused, WorkflowStatusArchived,
	}

	isAllowed := func(from, to WorkflowStatus) bool {
		for _, transition := range allowed {
			if transition.from == from && transition.to == to {
				return true
			}
		}

		return false
	}

	// Everything outside the allowed table must be rejected, archived is terminal.
	for _, from := range statuses {
		for _, to := range statuses {
			if isAllowed(from, to) {
				continue
			}

			assert.False(t, from.CanTransitionTo(to), "%s -> %s should be rejected", from, to)
		}
	}
}

func TestStepKindValid(t *testing.T) {
	assert.True(t, StepKindAction.Valid())
	assert.True(t, StepKindCondition.Valid())
	assert.True(t, StepKindDelay.Valid())
	assert.True(t, StepKindWebhookCall.Valid())
	assert.False(t, StepKind("loop").Valid())
	assert.False(t, StepKind("").Valid())
}

func TestStepDelayDuration(t *testing.T) {
	step := &Step{
		ID:            "step-1",
		Kind:          StepKindDelay,
		Configuration: map[string]any{"delay_seconds": 2.5},
	}

	duration, err := step.DelayDuration()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, duration)

	step.Configuration["delay_seconds"] = -1
	_, err = step.DelayDuration()
	assert.ErrorIs(t, err, ErrStepConfigInvalid)

	step.Configuration = map[string]any{}
	_, err = step.DelayDuration()
	assert.ErrorIs(t, err, ErrStepConfigMissing)
}

func TestStepWebhookAccessors(t *testing.T) {
	step := &Step{
		ID:   "step-1",
		Kind: StepKindWebhookCall,
		Configuration: map[string]any{
			"endpoint_id": "endpoint-1",
			"event_type":  "task.finished",
		},
	}

	endpointID, err := step.WebhookEndpointID()
	require.NoError(t, err)
	assert.Equal(t, "endpoint-1", endpointID)
	assert.Equal(t, "task.finished", step.WebhookEventType())

	step.Configuration = map[string]any{"endpoint_id": "endpoint-1"}
	assert.Equal(t, "workflow.step", step.WebhookEventType())
}

func TestParseCondition(t *testing.T) {
	condition, err := ParseCondition(map[string]any{
		"field":    "order.total",
		"operator": "equals",
		"value":    100,
	})
	require.NoError(t, err)
	assert.Equal(t, OperatorEquals, condition.Operator)

	_, err = ParseCondition(map[string]any{"field": "a", "operator": "between"})
	assert.ErrorIs(t, err, ErrConditionInvalid)

	_, err = ParseCondition(42)
	assert.ErrorIs(t, err, ErrConditionInvalid)
}

func TestConditionEvaluate(t *testing.T) {
	data := map[string]any{
		"order": map[string]any{"total": 100.0, "tags": "priority,rush"},
		"ready": true,
	}

	tests := []struct {
		name      string
		condition Condition
		expected  bool
	}{
		{"equals match", Condition{Field: "order.total", Operator: OperatorEquals, Value: 100.0}, true},
		{"equals mismatch", Condition{Field: "order.total", Operator: OperatorEquals, Value: 50}, false},
		{"contains", Condition{Field: "order.tags", Operator: OperatorContains, Value: "rush"}, true},
		{"exists", Condition{Field: "order.total", Operator: OperatorExists}, true},
		{"exists missing", Condition{Field: "order.missing", Operator: OperatorExists}, false},
		{"truthy field", Condition{Field: "ready", Operator: OperatorTruthy}, true},
		{"truthy constant", Condition{Operator: OperatorTruthy, Value: "true"}, true},
		{"missing field is false", Condition{Field: "nope", Operator: OperatorEquals, Value: 1}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := tc.condition.Evaluate(data)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestEndpointSubscribedTo(t *testing.T) {
	endpoint := &WebhookEndpoint{Events: []string{"task.completed"}}
	assert.True(t, endpoint.SubscribedTo("task.completed"))
	assert.False(t, endpoint.SubscribedTo("task.failed"))

	wildcard := &WebhookEndpoint{Events: []string{"*"}}
	assert.True(t, wildcard.SubscribedTo("anything.at.all"))
}

func TestDeliveryStatsBreakerCounting(t *testing.T) {
	stats := NewDeliveryStats()

	for i := 1; i <= 4; i++ {
		assert.Equal(t, int64(i), stats.RecordFailure())
	}

	stats.RecordSuccess()

	snapshot := stats.Snapshot()
	assert.Equal(t, int64(5), snapshot.TotalDeliveries)
	assert.Equal(t, int64(1), snapshot.SuccessfulDeliveries)
	assert.Equal(t, int64(4), snapshot.FailedDeliveries)
	assert.Equal(t, int64(0), snapshot.ConsecutiveFailures, "success resets consecutive failures")

	assert.Equal(t, int64(1), stats.RecordFailure(), "counting resumes from zero after success")
}

func TestWorkflowTriggerMatches(t *testing.T) {
	trigger := &WorkflowTrigger{EventType: "invoice.paid", Source: "stripe"}

	assert.True(t, trigger.Matches("invoice.paid", "stripe"))
	assert.False(t, trigger.Matches("invoice.paid", "paypal"))
	assert.False(t, trigger.Matches("invoice.created", "stripe"))

	wildcard := &WorkflowTrigger{EventType: "*"}
	assert.True(t, wildcard.Matches("invoice.paid", "stripe"))
	assert.True(t, wildcard.Matches("anything", ""))
}

func TestPriorityWeight(t *testing.T) {
	assert.Greater(t, PriorityUrgent.Weight(), PriorityHigh.Weight())
	assert.Greater(t, PriorityHigh.Weight(), PriorityMedium.Weight())
	assert.Greater(t, PriorityMedium.Weight(), PriorityLow.Weight())
	assert.Equal(t, PriorityMedium.Weight(), WorkflowPriority("").Weight())
}

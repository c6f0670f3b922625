package models

import (
	"errors"
	"fmt"
	"time"
)

// StepKind is the closed set of step variants. Dispatch over kinds happens in
// a single switch at the executor boundary; adding a kind means extending this
// enum and that switch.
type StepKind string

const (
	StepKindAction      StepKind = "action"       // Run a registered action handler
	StepKindCondition   StepKind = "condition"    // May short-circuit the remaining steps
	StepKindDelay       StepKind = "delay"        // Suspends the task until a deadline
	StepKindWebhookCall StepKind = "webhook_call" // Delegates to the webhook delivery subsystem
)

// Valid reports whether the kind is a known step variant.
func (k StepKind) Valid() bool {
	switch k {
	case StepKindAction, StepKindCondition, StepKindDelay, StepKindWebhookCall:
		return true
	}

	return false
}

// Step is one unit of work within a workflow. The Configuration payload is
// interpreted per kind through the typed accessors below.
type Step struct {
	ID            string         `json:"id"   validate:"required"`
	Name          string         `json:"name" validate:"required"`
	Kind          StepKind       `json:"kind" validate:"required"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

var (
	// ErrStepConfigMissing is returned when a kind-specific configuration key is absent.
	ErrStepConfigMissing = errors.New("missing step configuration")
	// ErrStepConfigInvalid is returned when a configuration value has the wrong shape.
	ErrStepConfigInvalid = errors.New("invalid step configuration")
)

// ActionType returns the registered action handler type for an action step.
func (s *Step) ActionType() (string, error) {
	actionType, ok := s.Configuration["action_type"].(string)
	if !ok || actionType == "" {
		return "", fmt.Errorf("step %s: 'action_type': %w", s.ID, ErrStepConfigMissing)
	}

	return actionType, nil
}

// DelayDuration returns the suspension duration for a delay step.
func (s *Step) DelayDuration() (time.Duration, error) {
	raw, exists := s.Configuration["delay_seconds"]
	if !exists {
		return 0, fmt.Errorf("step %s: 'delay_seconds': %w", s.ID, ErrStepConfigMissing)
	}

	var seconds float64

	switch v := raw.(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	case int64:
		seconds = float64(v)
	default:
		return 0, fmt.Errorf("step %s: 'delay_seconds' must be numeric, got %T: %w", s.ID, raw, ErrStepConfigInvalid)
	}

	if seconds <= 0 {
		return 0, fmt.Errorf("step %s: 'delay_seconds' must be positive: %w", s.ID, ErrStepConfigInvalid)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// WebhookEndpointID returns the target endpoint for a webhook_call step.
func (s *Step) WebhookEndpointID() (string, error) {
	endpointID, ok := s.Configuration["endpoint_id"].(string)
	if !ok || endpointID == "" {
		return "", fmt.Errorf("step %s: 'endpoint_id': %w", s.ID, ErrStepConfigMissing)
	}

	return endpointID, nil
}

// WebhookEventType returns the event type stamped on outbound deliveries for
// a webhook_call step. Defaults to "workflow.step" when unset.
func (s *Step) WebhookEventType() string {
	eventType, ok := s.Configuration["event_type"].(string)
	if !ok || eventType == "" {
		return "workflow.step"
	}

	return eventType
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	clone := &Step{ID: s.ID, Name: s.Name, Kind: s.Kind}

	if s.Configuration != nil {
		clone.Configuration = make(map[string]any, len(s.Configuration))
		for key, value := range s.Configuration {
			clone.Configuration[key] = value
		}
	}

	return clone
}

// CloneSteps deep-copies a step list. Tasks snapshot their workflow's steps
// at creation, so later edits never change what a task in flight executes.
func CloneSteps(steps []*Step) []*Step {
	cloned := make([]*Step, 0, len(steps))

	for _, step := range steps {
		cloned = append(cloned, step.Clone())
	}

	return cloned
}

// ConditionRule returns the condition for a condition step.
func (s *Step) ConditionRule() (*Condition, error) {
	raw, exists := s.Configuration["condition"]
	if !exists {
		return nil, fmt.Errorf("step %s: 'condition': %w", s.ID, ErrStepConfigMissing)
	}

	condition, err := ParseCondition(raw)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", s.ID, err)
	}

	return condition, nil
}

// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/kazihq/zapflow/pkg/models"

// StepRequest represents a single workflow step in a create or update request.
type StepRequest struct {
	ID            string         `json:"id"            validate:"required,min=1"`
	Name          string         `json:"name"`
	Kind          string         `json:"kind"          validate:"required,oneof=action condition delay webhook_call"`
	Configuration map[string]any `json:"configuration"`
}

// TriggerRequest represents a trigger binding in a create or update request.
type TriggerRequest struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	EventType     string         `json:"event_type"    validate:"required"`
	Source        string         `json:"source"`
	Configuration map[string]any `json:"configuration"`
}

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Priority    string           `json:"priority"    validate:"omitempty,oneof=low medium high urgent"`
	Steps       []StepRequest    `json:"steps"       validate:"dive"`
	Triggers    []TriggerRequest `json:"triggers"    validate:"dive"`
	Tags        []string         `json:"tags,omitempty"`
	Owners      []string         `json:"owners,omitempty"`
	Variables   map[string]any   `json:"variables,omitempty"`
}

// UpdateWorkflowRequest represents the request body for updating a workflow.
// Nil fields are left unchanged to support partial updates.
type UpdateWorkflowRequest struct {
	Name        *string          `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string          `json:"description,omitempty"`
	Priority    *string          `json:"priority,omitempty"    validate:"omitempty,oneof=low medium high urgent"`
	Steps       []StepRequest    `json:"steps,omitempty"       validate:"omitempty,dive"`
	Triggers    []TriggerRequest `json:"triggers,omitempty"    validate:"omitempty,dive"`
	Tags        []string         `json:"tags,omitempty"`
	Owners      []string         `json:"owners,omitempty"`
	Variables   map[string]any   `json:"variables,omitempty"`
}

// UpdateWorkflowStatusRequest represents the request body for the workflow
// status route, covering activate, pause and archive.
type UpdateWorkflowStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused archived"`
}

// RunWorkflowRequest represents the request body for running a workflow directly.
type RunWorkflowRequest struct {
	Input map[string]any `json:"input"`
}

// RegisterEndpointRequest represents the request body for registering a
// webhook endpoint. Retry and breaker settings fall back to server defaults
// when omitted.
type RegisterEndpointRequest struct {
	Name              string            `json:"name"                validate:"required,min=1"`
	URL               string            `json:"url"                 validate:"required,url"`
	Secret            string            `json:"secret,omitempty"`
	Events            []string          `json:"events,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	RetryCount        int               `json:"retry_count"         validate:"omitempty,min=0,max=10"`
	RetryDelaySeconds int               `json:"retry_delay_seconds" validate:"omitempty,min=0"`
	TimeoutMs         int               `json:"timeout_ms"          validate:"omitempty,min=0"`
	VerifySSL         *bool             `json:"verify_ssl,omitempty"`
	BreakerThreshold  int               `json:"breaker_threshold"   validate:"omitempty,min=0"`
}

// UpdateEndpointStatusRequest represents the request body for manually
// activating or pausing an endpoint.
type UpdateEndpointStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused"`
}

func toModelSteps(steps []StepRequest) []*models.Step {
	converted := make([]*models.Step, 0, len(steps))

	for _, step := range steps {
		converted = append(converted, &models.Step{
			ID:            step.ID,
			Name:          step.Name,
			Kind:          models.StepKind(step.Kind),
			Configuration: step.Configuration,
		})
	}

	return converted
}

func toModelTriggers(triggers []TriggerRequest) []*models.WorkflowTrigger {
	converted := make([]*models.WorkflowTrigger, 0, len(triggers))

	for _, trigger := range triggers {
		converted = append(converted, &models.WorkflowTrigger{
			ID:            trigger.ID,
			Name:          trigger.Name,
			EventType:     trigger.EventType,
			Source:        trigger.Source,
			Configuration: trigger.Configuration,
		})
	}

	return converted
}

// Package services implements the application services exposed over the API:
// workflow management, task history access and webhook endpoint management.
package services

import (
	"errors"
	"fmt"

	"github.com/kazihq/zapflow/pkg/delivery"
	"github.com/kazihq/zapflow/pkg/persistence"
	"github.com/kazihq/zapflow/pkg/workflow"
)

// Validation errors (422 Unprocessable Entity).
var (
	ErrWorkflowNil           = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired  = errors.New("workflow name is required")
	ErrStepIDsNotUnique      = errors.New("step IDs must be unique within a workflow")
	ErrStepKindUnknown       = errors.New("unknown step kind")
	ErrStepConfigInvalid     = errors.New("invalid step configuration")
	ErrEndpointNameRequired  = errors.New("endpoint name is required")
	ErrEndpointURLRequired   = errors.New("endpoint url is required")
	ErrEndpointStatusInvalid = errors.New("endpoint status must be active or paused")
)

// Conflict errors (409 Conflict).
var (
	ErrWorkflowArchived = errors.New("archived workflows cannot be modified")
)

// Not-found sentinels re-exported from persistence for callers that only
// import services.
var (
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrEndpointNotFound = persistence.ErrEndpointNotFound
	ErrTaskNotFound     = persistence.ErrTaskNotFound
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether the error should map to HTTP 422.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrStepIDsNotUnique) ||
		errors.Is(err, ErrStepKindUnknown) ||
		errors.Is(err, ErrStepConfigInvalid) ||
		errors.Is(err, ErrEndpointNameRequired) ||
		errors.Is(err, ErrEndpointURLRequired) ||
		errors.Is(err, ErrEndpointStatusInvalid)
}

// IsConflictError reports whether the error should map to HTTP 409: invalid
// state transitions and operations against entities in the wrong state.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowArchived) ||
		errors.Is(err, workflow.ErrInvalidTransition) ||
		errors.Is(err, workflow.ErrWorkflowNotRunnable) ||
		errors.Is(err, workflow.ErrTaskNotTerminal) ||
		errors.Is(err, delivery.ErrEndpointPaused)
}

// IsNotFoundError reports whether the error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) ||
		persistence.IsEndpointNotFound(err) ||
		persistence.IsTaskNotFound(err) ||
		persistence.IsDeliveryNotFound(err)
}

package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEndpointNotFound indicates a webhook endpoint was not found.
	ErrEndpointNotFound = errors.New("webhook endpoint not found")

	// ErrTaskNotFound indicates a task was not found in the history store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDeliveryNotFound indicates a delivery record was not found.
	ErrDeliveryNotFound = errors.New("delivery not found")
)

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsEndpointNotFound checks if an error indicates an endpoint was not found.
func IsEndpointNotFound(err error) bool {
	return errors.Is(err, ErrEndpointNotFound)
}

// IsTaskNotFound checks if an error indicates a task was not found.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsDeliveryNotFound checks if an error indicates a delivery was not found.
func IsDeliveryNotFound(err error) bool {
	return errors.Is(err, ErrDeliveryNotFound)
}

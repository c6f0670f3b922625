package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a workflow status change is not
	// allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid workflow status transition")
	// ErrTaskCancelled is the cancellation cause set when a task is cancelled.
	// Cancellation takes effect at the next step boundary.
	ErrTaskCancelled = errors.New("task cancelled")
	// ErrTaskDeadlineExceeded is returned when a task runs past its wall-clock
	// budget.
	ErrTaskDeadlineExceeded = errors.New("task deadline exceeded")
	// ErrUnknownStepKind is returned when a task references a step kind the
	// executor does not dispatch. Workflow validation prevents this upstream.
	ErrUnknownStepKind = errors.New("unknown step kind")
	// ErrWorkflowNotRunnable is returned when a task is requested for a
	// workflow that is not active.
	ErrWorkflowNotRunnable = errors.New("workflow is not active")
	// ErrTaskNotTerminal is returned when replay is requested for a task that
	// is still waiting or running.
	ErrTaskNotTerminal = errors.New("task has not finished")
)

func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

func IsTaskCancelled(err error) bool { return errors.Is(err, ErrTaskCancelled) }

func IsWorkflowNotRunnable(err error) bool { return errors.Is(err, ErrWorkflowNotRunnable) }

func IsTaskNotTerminal(err error) bool { return errors.Is(err, ErrTaskNotTerminal) }

package models

import "time"

// TaskStatus is the lifecycle state of a task (one execution of a workflow).
type TaskStatus string

const (
	TaskStatusWaiting TaskStatus = "waiting"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

// StepStatus is the state of a single step result within a task. Steps
// skipped by a condition short-circuit stay "waiting" permanently.
type StepStatus string

const (
	StepStatusWaiting StepStatus = "waiting"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// FailureKind distinguishes why a task ended up failed, for reporting.
type FailureKind string

const (
	FailureKindStepError FailureKind = "step_error"
	FailureKindCancelled FailureKind = "cancelled"
	FailureKindTimeout   FailureKind = "timeout"
)

// StepResult records the outcome of one step execution. Results are appended
// in step order and never mutated after the step completes.
type StepResult struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Data        any        `json:"data,omitempty"`
	Error       string     `json:"error,omitempty"`
	DeliveryID  string     `json:"delivery_id,omitempty"` // reference to a Delivery for webhook_call steps
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Task is one execution of a workflow. A task is owned exclusively by the
// workflow run that spawned it; it holds workflow_id as a lookup key, never a
// back-reference. Terminal tasks are immutable: replay creates a new task.
//
// Steps is the step-list snapshot taken at creation. Editing the workflow
// bumps its steps version and does not reach tasks already in flight.
type Task struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	StepsVersion     int              `json:"steps_version"`
	Steps            []*Step          `json:"steps,omitempty"`
	Status           TaskStatus       `json:"status"`
	Priority         WorkflowPriority `json:"priority"`
	CurrentStepIndex int              `json:"current_step_index"`
	Input            map[string]any   `json:"input,omitempty"`
	Output           map[string]any   `json:"output,omitempty"`
	StepResults      []*StepResult    `json:"step_results"`
	FailureKind      FailureKind      `json:"failure_kind,omitempty"`
	Error            string           `json:"error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	Deadline         *time.Time       `json:"deadline,omitempty"` // optional wall-clock budget
}

// ResultFor returns the recorded result for a step, if any.
func (t *Task) ResultFor(stepID string) *StepResult {
	for _, result := range t.StepResults {
		if result.StepID == stepID {
			return result
		}
	}

	return nil
}

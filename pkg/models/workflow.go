// Package models defines the core domain models for workflow automation
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not eligible to run
	WorkflowStatusActive   WorkflowStatus = "active"   // Eligible to run
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Not eligible, resumable
	WorkflowStatusArchived WorkflowStatus = "archived" // Terminal, no further runs, history retained
)

// workflowTransitions lists the allowed status transitions. Anything not in
// this table is rejected by CanTransitionTo.
var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusDraft:    {WorkflowStatusActive},
	WorkflowStatusActive:   {WorkflowStatusPaused, WorkflowStatusArchived},
	WorkflowStatusPaused:   {WorkflowStatusActive, WorkflowStatusArchived},
	WorkflowStatusArchived: {},
}

// CanTransitionTo reports whether the status machine allows moving to next.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Valid reports whether the status is one of the known lifecycle states.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused, WorkflowStatusArchived:
		return true
	}

	return false
}

// WorkflowPriority affects worker scheduling only, never trigger match order.
type WorkflowPriority string

const (
	PriorityLow    WorkflowPriority = "low"
	PriorityMedium WorkflowPriority = "medium"
	PriorityHigh   WorkflowPriority = "high"
	PriorityUrgent WorkflowPriority = "urgent"
)

// Weight converts a priority into a sortable scheduling weight.
func (p WorkflowPriority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// WorkflowTrigger declares which bus events a workflow reacts to.
type WorkflowTrigger struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	EventType     string         `json:"event_type" validate:"required"` // "*" subscribes to all types
	Source        string         `json:"source,omitempty"`               // optional source filter, empty matches any
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Matches reports whether the trigger reacts to the given event.
func (t *WorkflowTrigger) Matches(eventType, source string) bool {
	if t.EventType != "*" && t.EventType != eventType {
		return false
	}

	if t.Source != "" && t.Source != source {
		return false
	}

	return true
}

// Workflow is a user-defined automation: an ordered list of steps executed
// whenever one of its triggers matches a published event.
type Workflow struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"        validate:"required,min=3"`
	Description  string             `json:"description"`
	Status       WorkflowStatus     `json:"status"      validate:"required"`
	Priority     WorkflowPriority   `json:"priority"`
	Steps        []*Step            `json:"steps"`
	StepsVersion int                `json:"steps_version"` // bumped on every step-list edit
	TotalSteps   int                `json:"total_steps"`
	Tags         []string           `json:"tags,omitempty"`
	Owners       []string           `json:"owners,omitempty"`
	Triggers     []*WorkflowTrigger `json:"triggers"`
	Variables    map[string]any     `json:"variables,omitempty"`
	RunCount     int64              `json:"run_count"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ArchivedAt   *time.Time         `json:"archived_at,omitempty"`
}

// Runnable reports whether new tasks may be created for this workflow.
func (w *Workflow) Runnable() bool {
	return w.Status == WorkflowStatusActive
}

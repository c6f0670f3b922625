// Package events defines the typed events exchanged over the internal bus.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/kazihq/zapflow/pkg/models"
)

type EventType string

// Topic is the bus topic all engine events flow through.
const Topic = "zapflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// WildcardEventType subscribes a handler to every event type.
const WildcardEventType EventType = "*"

const (
	// Trigger ingress.
	TriggerFiredEvent EventType = "trigger.fired"

	// Task lifecycle.
	TaskCreatedEvent   EventType = "task.created"
	TaskCompletedEvent EventType = "task.completed"
	TaskFailedEvent    EventType = "task.failed"
	TaskCancelledEvent EventType = "task.cancelled"

	// Workflow lifecycle.
	WorkflowActivatedEvent EventType = "workflow.activated"
	WorkflowPausedEvent    EventType = "workflow.paused"
	WorkflowArchivedEvent  EventType = "workflow.archived"

	// Webhook delivery.
	DeliveryCompletedEvent EventType = "delivery.completed"
	EndpointTrippedEvent   EventType = "endpoint.tripped"
)

// Event is implemented by every bus event.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// TriggerFired announces that an external trigger observed an event. Sources
// (schedule ticks, queue messages, manual runs) publish it without knowing
// which workflows will match.
type TriggerFired struct {
	BaseEvent

	EventType string         `json:"event_type"` // domain event type used for workflow matching
	Source    string         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
}

func (t TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

type TaskCreated struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	WorkflowID string `json:"workflow_id"`
	TriggerID  string `json:"trigger_id,omitempty"`
}

func (t TaskCreated) GetType() EventType {
	return TaskCreatedEvent
}

type TaskCompleted struct {
	BaseEvent

	TaskID        string         `json:"task_id"`
	WorkflowID    string         `json:"workflow_id"`
	DurationMs    int64          `json:"duration_ms"`
	StepsExecuted int            `json:"steps_executed"`
	Output        map[string]any `json:"output,omitempty"`
}

func (t TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

type TaskFailed struct {
	BaseEvent

	TaskID        string             `json:"task_id"`
	WorkflowID    string             `json:"workflow_id"`
	StepID        string             `json:"step_id,omitempty"`
	FailureKind   models.FailureKind `json:"failure_kind"`
	Error         string             `json:"error"`
	DurationMs    int64              `json:"duration_ms"`
	StepsExecuted int                `json:"steps_executed"`
}

func (t TaskFailed) GetType() EventType {
	return TaskFailedEvent
}

type TaskCancelled struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	WorkflowID string `json:"workflow_id"`
	Reason     string `json:"reason,omitempty"`
}

func (t TaskCancelled) GetType() EventType {
	return TaskCancelledEvent
}

type WorkflowActivated struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
}

func (w WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

type WorkflowPaused struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
}

func (w WorkflowPaused) GetType() EventType {
	return WorkflowPausedEvent
}

type WorkflowArchived struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
}

func (w WorkflowArchived) GetType() EventType {
	return WorkflowArchivedEvent
}

// DeliveryCompleted reports the final outcome of a webhook delivery, after
// all retries.
type DeliveryCompleted struct {
	BaseEvent

	DeliveryID   string                `json:"delivery_id"`
	EndpointID   string                `json:"endpoint_id"`
	Status       models.DeliveryStatus `json:"status"`
	Attempts     int                   `json:"attempts"`
	ResponseCode *int                  `json:"response_code,omitempty"`
}

func (d DeliveryCompleted) GetType() EventType {
	return DeliveryCompletedEvent
}

// EndpointTripped reports that an endpoint's circuit breaker auto-paused it.
type EndpointTripped struct {
	BaseEvent

	EndpointID          string `json:"endpoint_id"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	Threshold           int    `json:"threshold"`
}

func (e EndpointTripped) GetType() EventType {
	return EndpointTrippedEvent
}

// Package testutil provides test doubles and data builders shared across
// package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/events"
	"github.com/kazihq/zapflow/pkg/models"
)

// RecordingBus is a synchronous in-memory event bus: Publish dispatches to
// registered handlers inline and records every event for assertions.
type RecordingBus struct {
	mu        sync.Mutex
	published []events.Event
	handlers  map[events.EventType][]eventbus.EventHandler
}

func NewRecordingBus() *RecordingBus {
	return &RecordingBus{handlers: make(map[events.EventType][]eventbus.EventHandler)}
}

func (b *RecordingBus) Publish(ctx context.Context, _ string, event events.Event) error {
	b.mu.Lock()
	b.published = append(b.published, event)
	handlers := append([]eventbus.EventHandler{}, b.handlers[event.GetType()]...)
	handlers = append(handlers, b.handlers[events.WildcardEventType]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

func (b *RecordingBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	return nil
}

func (b *RecordingBus) Subscribe(context.Context) error { return nil }

func (b *RecordingBus) GenerateID() string { return uuid.New().String() }

func (b *RecordingBus) Close() error { return nil }

// EventsOfType returns the published events of one type, in publish order.
func (b *RecordingBus) EventsOfType(eventType events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	matched := make([]events.Event, 0)

	for _, event := range b.published {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

// CreateTestEndpoint builds an active endpoint with sane retry settings,
// applying any overrides.
func CreateTestEndpoint(url string, overrides ...func(*models.WebhookEndpoint)) *models.WebhookEndpoint {
	endpoint := &models.WebhookEndpoint{
		ID:                uuid.Must(uuid.NewV7()).String(),
		Name:              "test endpoint",
		URL:               url,
		Secret:            "whsec_test",
		Events:            []string{"*"},
		Status:            models.EndpointStatusActive,
		RetryCount:        3,
		RetryDelaySeconds: 0,
		TimeoutMs:         2000,
		VerifySSL:         true,
		BreakerThreshold:  3,
		Stats:             models.NewDeliveryStats(),
	}

	for _, override := range overrides {
		override(endpoint)
	}

	return endpoint
}

// CreateTestWorkflow builds an active workflow around the given steps,
// applying any overrides.
func CreateTestWorkflow(steps []*models.Step, overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Name:         "test workflow",
		Status:       models.WorkflowStatusActive,
		Priority:     models.PriorityMedium,
		Steps:        steps,
		StepsVersion: 1,
		TotalSteps:   len(steps),
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// LogStep builds an action step using the built-in log action.
func LogStep(id, message string) *models.Step {
	return &models.Step{
		ID:   id,
		Name: id,
		Kind: models.StepKindAction,
		Configuration: map[string]any{
			"action_type": "log",
			"message":     message,
		},
	}
}

package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/events"
	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/registry"
	"github.com/kazihq/zapflow/pkg/workflow"
)

// WorkflowService manages workflow definitions and their lifecycle.
type WorkflowService struct {
	repository *workflow.Repository
	manager    *workflow.Manager
	registry   *registry.Registry
	eventBus   eventbus.EventBus
	logger     *slog.Logger
}

func NewWorkflowService(
	repository *workflow.Repository,
	manager *workflow.Manager,
	actionRegistry *registry.Registry,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *WorkflowService {
	return &WorkflowService{
		repository: repository,
		manager:    manager,
		registry:   actionRegistry,
		eventBus:   eventBus,
		logger:     logger.With("module", "workflow_service"),
	}
}

func (s *WorkflowService) List(ctx context.Context) ([]*models.Workflow, error) {
	return s.repository.FetchAll(ctx)
}

func (s *WorkflowService) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return s.repository.FetchByID(ctx, id)
}

// Create validates and persists a new workflow as a draft.
func (s *WorkflowService) Create(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if err := s.validate(wf); err != nil {
		return nil, err
	}

	wf.Status = models.WorkflowStatusDraft

	return s.repository.Create(ctx, wf)
}

// Update validates and replaces a workflow definition. Archived workflows are
// immutable.
func (s *WorkflowService) Update(ctx context.Context, id string, wf *models.Workflow) (*models.Workflow, error) {
	if err := s.validate(wf); err != nil {
		return nil, err
	}

	existing, err := s.repository.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.WorkflowStatusArchived {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowArchived)
	}

	return s.repository.Update(ctx, id, wf)
}

func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	return s.repository.Delete(ctx, id)
}

// Activate moves a workflow to active and announces it on the bus.
func (s *WorkflowService) Activate(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := s.repository.Transition(ctx, id, models.WorkflowStatusActive)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, id, events.WorkflowActivated{
		BaseEvent:  events.NewBaseEvent(events.WorkflowActivatedEvent),
		WorkflowID: id,
	})

	return wf, nil
}

// Pause stops new tasks from being created; running tasks finish on their own.
func (s *WorkflowService) Pause(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := s.repository.Transition(ctx, id, models.WorkflowStatusPaused)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, id, events.WorkflowPaused{
		BaseEvent:  events.NewBaseEvent(events.WorkflowPausedEvent),
		WorkflowID: id,
	})

	return wf, nil
}

// Archive permanently retires a workflow. Its task history stays queryable.
func (s *WorkflowService) Archive(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := s.repository.Transition(ctx, id, models.WorkflowStatusArchived)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, id, events.WorkflowArchived{
		BaseEvent:  events.NewBaseEvent(events.WorkflowArchivedEvent),
		WorkflowID: id,
	})

	return wf, nil
}

// Run creates a task for the workflow directly, bypassing trigger matching.
func (s *WorkflowService) Run(ctx context.Context, id string, input map[string]any) (*models.Task, error) {
	wf, err := s.repository.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.manager.RunWorkflow(ctx, wf, input)
}

// Duplicate creates a draft copy of a workflow with fresh counters.
func (s *WorkflowService) Duplicate(ctx context.Context, id string) (*models.Workflow, error) {
	original, err := s.repository.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	duplicate := &models.Workflow{
		Name:        original.Name + " (copy)",
		Description: original.Description,
		Status:      models.WorkflowStatusDraft,
		Priority:    original.Priority,
		Steps:       models.CloneSteps(original.Steps),
		Tags:        append([]string{}, original.Tags...),
		Owners:      append([]string{}, original.Owners...),
		Triggers:    copyTriggers(original.Triggers),
		Variables:   copyMap(original.Variables),
	}

	return s.repository.Create(ctx, duplicate)
}

// validate enforces the structural invariants of a workflow definition:
// unique step IDs, known step kinds and per-kind configuration. The ordered
// step list is acyclic by construction.
func (s *WorkflowService) validate(wf *models.Workflow) error {
	if wf == nil {
		return ErrWorkflowNil
	}

	if wf.Name == "" {
		return ErrWorkflowNameRequired
	}

	seen := make(map[string]bool, len(wf.Steps))

	for _, step := range wf.Steps {
		if step.ID == "" {
			return fmt.Errorf("step %q has no id: %w", step.Name, ErrStepConfigInvalid)
		}

		if seen[step.ID] {
			return fmt.Errorf("step id %q: %w", step.ID, ErrStepIDsNotUnique)
		}

		seen[step.ID] = true

		if err := s.validateStep(step); err != nil {
			return err
		}
	}

	return nil
}

func (s *WorkflowService) validateStep(step *models.Step) error {
	switch step.Kind {
	case models.StepKindAction:
		actionType, err := step.ActionType()
		if err != nil {
			return fmt.Errorf("%v: %w", err, ErrStepConfigInvalid)
		}

		if _, err := s.registry.Create(actionType, step.Configuration); err != nil {
			return fmt.Errorf("step %s: %v: %w", step.ID, err, ErrStepConfigInvalid)
		}

	case models.StepKindCondition:
		if _, err := step.ConditionRule(); err != nil {
			return fmt.Errorf("%v: %w", err, ErrStepConfigInvalid)
		}

	case models.StepKindDelay:
		if _, err := step.DelayDuration(); err != nil {
			return fmt.Errorf("%v: %w", err, ErrStepConfigInvalid)
		}

	case models.StepKindWebhookCall:
		if _, err := step.WebhookEndpointID(); err != nil {
			return fmt.Errorf("%v: %w", err, ErrStepConfigInvalid)
		}

	default:
		return fmt.Errorf("step %s has kind %q: %w", step.ID, step.Kind, ErrStepKindUnknown)
	}

	return nil
}

func (s *WorkflowService) publish(ctx context.Context, key string, event events.Event) {
	if err := s.eventBus.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func copyTriggers(triggers []*models.WorkflowTrigger) []*models.WorkflowTrigger {
	copied := make([]*models.WorkflowTrigger, 0, len(triggers))

	for _, trigger := range triggers {
		copied = append(copied, &models.WorkflowTrigger{
			ID:            trigger.ID,
			Name:          trigger.Name,
			EventType:     trigger.EventType,
			Source:        trigger.Source,
			Configuration: copyMap(trigger.Configuration),
		})
	}

	return copied
}

func copyMap(source map[string]any) map[string]any {
	if source == nil {
		return nil
	}

	copied := make(map[string]any, len(source))
	for key, value := range source {
		copied[key] = value
	}

	return copied
}

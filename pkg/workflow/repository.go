// Package workflow contains the execution engine: the workflow repository,
// the trigger matcher, the step executor and the worker manager.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

// Repository wraps workflow persistence with creation defaults and serialized
// status transitions.
type Repository struct {
	workflows persistence.WorkflowRepository

	// transitionLocks serializes status transitions per workflow so two
	// concurrent transitions cannot both read the same current status.
	mu              sync.Mutex
	transitionLocks map[string]*sync.Mutex
}

func NewRepository(workflows persistence.WorkflowRepository) *Repository {
	return &Repository{
		workflows:       workflows,
		transitionLocks: make(map[string]*sync.Mutex),
	}
}

func (r *Repository) FetchAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.workflows.GetAll(ctx)
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return r.workflows.GetByID(ctx, id)
}

// FetchActive returns only workflows eligible to run.
func (r *Repository) FetchActive(ctx context.Context) ([]*models.Workflow, error) {
	all, err := r.workflows.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if workflow.Runnable() {
			active = append(active, workflow)
		}
	}

	return active, nil
}

// Create persists a new workflow with creation defaults applied.
func (r *Repository) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.Must(uuid.NewV7()).String()
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if workflow.Priority == "" {
		workflow.Priority = models.PriorityMedium
	}

	if workflow.StepsVersion == 0 {
		workflow.StepsVersion = 1
	}

	workflow.TotalSteps = len(workflow.Steps)

	if err := r.workflows.Save(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// Update replaces the mutable fields of a workflow. Editing the step list
// bumps the steps version so running tasks keep executing the step list they
// started with.
func (r *Repository) Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error) {
	existing, err := r.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.ID = id
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()
	workflow.Status = existing.Status
	workflow.RunCount = existing.RunCount
	workflow.StepsVersion = existing.StepsVersion

	if stepsChanged(existing.Steps, workflow.Steps) {
		workflow.StepsVersion = existing.StepsVersion + 1
	}

	workflow.TotalSteps = len(workflow.Steps)

	if err := r.workflows.Save(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.workflows.Delete(ctx, id)
}

// Save persists a workflow as-is. Used for counter updates.
func (r *Repository) Save(ctx context.Context, workflow *models.Workflow) error {
	workflow.UpdatedAt = time.Now().UTC()

	return r.workflows.Save(ctx, workflow)
}

// Transition moves a workflow to the next status if the state machine allows
// it. Transitions for one workflow are serialized.
func (r *Repository) Transition(ctx context.Context, id string, next models.WorkflowStatus) (*models.Workflow, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	workflow, err := r.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !workflow.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("cannot transition workflow %s from %s to %s: %w",
			id, workflow.Status, next, ErrInvalidTransition)
	}

	workflow.Status = next
	workflow.UpdatedAt = time.Now().UTC()

	if next == models.WorkflowStatusArchived {
		archivedAt := workflow.UpdatedAt
		workflow.ArchivedAt = &archivedAt
	}

	if err := r.workflows.Save(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *Repository) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.transitionLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.transitionLocks[id] = lock
	}

	return lock
}

func stepsChanged(before, after []*models.Step) bool {
	if len(before) != len(after) {
		return true
	}

	for i := range before {
		if before[i].ID != after[i].ID || before[i].Kind != after[i].Kind ||
			before[i].Name != after[i].Name ||
			!sameConfiguration(before[i].Configuration, after[i].Configuration) {
			return true
		}
	}

	return false
}

func sameConfiguration(before, after map[string]any) bool {
	if len(before) != len(after) {
		return false
	}

	for key, value := range before {
		if fmt.Sprintf("%v", after[key]) != fmt.Sprintf("%v", value) {
			return false
		}
	}

	return true
}

// Package history is the append-only task history store. Tasks and step
// results are only ever appended; terminal tasks are immutable and replays
// create fresh task records.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

var (
	// ErrTaskImmutable is returned when an append would change a task that
	// already reached a terminal status.
	ErrTaskImmutable = errors.New("task is terminal and cannot be changed")
	// ErrStepResultConflict is returned when a step result is appended twice
	// with different contents.
	ErrStepResultConflict = errors.New("step result already recorded with different contents")
)

func IsTaskImmutable(err error) bool { return errors.Is(err, ErrTaskImmutable) }

func IsStepResultConflict(err error) bool { return errors.Is(err, ErrStepResultConflict) }

// Store enforces the append-only discipline over a TaskRepository.
type Store struct {
	tasks  persistence.TaskRepository
	logger *slog.Logger
}

func NewStore(tasks persistence.TaskRepository, logger *slog.Logger) *Store {
	return &Store{tasks: tasks, logger: logger}
}

// Append records a task snapshot. Appending an identical snapshot is a no-op.
// A task that is already terminal in the store can never be changed.
func (s *Store) Append(ctx context.Context, task *models.Task) error {
	existing, err := s.tasks.GetByID(ctx, task.ID)
	if err != nil && !persistence.IsTaskNotFound(err) {
		return fmt.Errorf("failed to load task %s: %w", task.ID, err)
	}

	if existing != nil {
		if sameDocument(existing, task) {
			return nil
		}

		if existing.Status.Terminal() {
			return fmt.Errorf("task %s: %w", task.ID, ErrTaskImmutable)
		}
	}

	if err := s.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("failed to append task %s: %w", task.ID, err)
	}

	return nil
}

// AppendStepResult records one step result on a task. Re-appending an
// identical result for the same step is a no-op; appending a different result
// for an already-recorded step is a conflict.
func (s *Store) AppendStepResult(ctx context.Context, taskID string, result *models.StepResult) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	if recorded := task.ResultFor(result.StepID); recorded != nil {
		if sameDocument(recorded, result) {
			s.logger.DebugContext(ctx, "Step result already recorded", "task_id", taskID, "step_id", result.StepID)

			return nil
		}

		return fmt.Errorf("task %s step %s: %w", taskID, result.StepID, ErrStepResultConflict)
	}

	if task.Status.Terminal() {
		return fmt.Errorf("task %s: %w", taskID, ErrTaskImmutable)
	}

	task.StepResults = append(task.StepResults, result)

	if err := s.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("failed to append step result for task %s: %w", taskID, err)
	}

	return nil
}

// Get returns one task by ID.
func (s *Store) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.tasks.GetByID(ctx, id)
}

// Query returns tasks matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	return s.tasks.Query(ctx, filter)
}

// sameDocument compares entities by their serialized form so that values that
// round-tripped through storage compare equal to their in-memory originals.
func sameDocument(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}

	right, err := json.Marshal(b)
	if err != nil {
		return false
	}

	return bytes.Equal(left, right)
}

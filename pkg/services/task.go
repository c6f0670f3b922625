package services

import (
	"context"
	"log/slog"

	"github.com/kazihq/zapflow/pkg/history"
	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
	"github.com/kazihq/zapflow/pkg/workflow"
)

// TaskService exposes the task history and the operations allowed on it:
// query, replay and cancel. History records are never edited through here.
type TaskService struct {
	store   *history.Store
	manager *workflow.Manager
	logger  *slog.Logger
}

func NewTaskService(store *history.Store, manager *workflow.Manager, logger *slog.Logger) *TaskService {
	return &TaskService{
		store:   store,
		manager: manager,
		logger:  logger.With("module", "task_service"),
	}
}

func (s *TaskService) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.store.Get(ctx, id)
}

// Query returns tasks newest-first, filtered by workflow, status and
// started-at window.
func (s *TaskService) Query(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	return s.store.Query(ctx, filter)
}

// Replay re-runs a finished task as a brand new task with the same input.
func (s *TaskService) Replay(ctx context.Context, id string) (*models.Task, error) {
	return s.manager.Replay(ctx, id)
}

// Cancel stops a task at its next step boundary. Idempotent.
func (s *TaskService) Cancel(ctx context.Context, id string) error {
	return s.manager.CancelTask(ctx, id)
}

package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

// TaskRepository handles task history database operations.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const taskColumns = `
	id
  , workflow_id
  , steps_version
  , status
  , priority
  , current_step_index
  , input
  , output
  , step_results
  , failure_kind
  , error
  , started_at
  , completed_at
  , deadline
`

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	return task, nil
}

func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	input, err := json.Marshal(task.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	output, err := json.Marshal(task.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	stepResults, err := json.Marshal(task.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	query := `
		INSERT INTO tasks (
			id, workflow_id, steps_version, status, priority, current_step_index,
			input, output, step_results, failure_kind, error, started_at,
			completed_at, deadline
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_index = EXCLUDED.current_step_index,
			output = EXCLUDED.output,
			step_results = EXCLUDED.step_results,
			failure_kind = EXCLUDED.failure_kind,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			deadline = EXCLUDED.deadline
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID, task.WorkflowID, task.StepsVersion, task.Status, task.Priority,
		task.CurrentStepIndex, input, output, stepResults, task.FailureKind,
		task.Error, task.StartedAt, nullTime(task.CompletedAt), nullTime(task.Deadline),
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}

	return nil
}

func (r *TaskRepository) Query(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := make([]any, 0, 5)

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += ` AND workflow_id = $` + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND started_at >= $` + strconv.Itoa(len(args))
	}

	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += ` AND started_at <= $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY started_at DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task        models.Task
		input       []byte
		output      []byte
		stepResults []byte
		completedAt sql.NullTime
		deadline    sql.NullTime
	)

	err := row.Scan(
		&task.ID, &task.WorkflowID, &task.StepsVersion, &task.Status,
		&task.Priority, &task.CurrentStepIndex, &input, &output, &stepResults,
		&task.FailureKind, &task.Error, &task.StartedAt, &completedAt, &deadline,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(input, &task.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	if err := json.Unmarshal(output, &task.Output); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}

	if err := json.Unmarshal(stepResults, &task.StepResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step results: %w", err)
	}

	if completedAt.Valid {
		completed := completedAt.Time
		task.CompletedAt = &completed
	}

	if deadline.Valid {
		due := deadline.Time
		task.Deadline = &due
	}

	return &task, nil
}

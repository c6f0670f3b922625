package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kazihq/zapflow/pkg/delivery"
	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/events"
	"github.com/kazihq/zapflow/pkg/history"
	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/otelhelper"
	"github.com/kazihq/zapflow/pkg/persistence"
	"github.com/kazihq/zapflow/pkg/registry"
)

// Outcome reports how a task run ended. A suspended task re-enters the queue
// at ResumeAt without occupying a worker in the meantime.
type Outcome struct {
	Suspended bool
	ResumeAt  time.Time
}

// Executor runs a task's steps strictly in order. Cancellation and deadlines
// are honored at step boundaries: the step in flight always finishes and its
// result is recorded.
type Executor struct {
	store     *history.Store
	registry  *registry.Registry
	deliverer *delivery.Deliverer
	endpoints persistence.EndpointRepository
	eventBus  eventbus.EventBus
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewExecutor(
	store *history.Store,
	actionRegistry *registry.Registry,
	deliverer *delivery.Deliverer,
	endpoints persistence.EndpointRepository,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		store:     store,
		registry:  actionRegistry,
		deliverer: deliverer,
		endpoints: endpoints,
		eventBus:  eventBus,
		logger:    logger.With("module", "workflow_executor"),
		tracer:    otel.Tracer("zapflow/workflow"),
	}
}

// Run executes the task from its current step index. It mutates the task,
// appends snapshots to the history store and publishes the terminal lifecycle
// event. A nil Outcome with nil error means the task reached a terminal
// status.
func (e *Executor) Run(ctx context.Context, workflow *models.Workflow, task *models.Task) (*Outcome, error) {
	logger := e.logger.With("workflow_id", workflow.ID, "task_id", task.ID)

	ctx, span := e.tracer.Start(ctx, "task.execute", trace.WithAttributes(
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.TaskIDKey, task.ID),
	))
	defer span.End()

	task.Status = models.TaskStatusRunning
	if err := e.store.Append(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to record task start: %w", err)
	}

	executionCtx := models.ExecutionContext{
		TaskID:      task.ID,
		WorkflowID:  workflow.ID,
		Input:       task.Input,
		Variables:   workflow.Variables,
		StepResults: resultData(task),
	}

	// The task runs the step list snapshotted at its creation; workflow edits
	// after that point never reach a task already in flight.
	steps := task.Steps
	if len(steps) == 0 {
		steps = workflow.Steps
	}

	logger.InfoContext(ctx, "Executing task", "from_step", task.CurrentStepIndex, "total_steps", len(steps))

	for index := task.CurrentStepIndex; index < len(steps); index++ {
		step := steps[index]
		task.CurrentStepIndex = index

		if cause := e.boundaryViolation(ctx, task); cause != nil {
			if errors.Is(cause, ErrTaskCancelled) || errors.Is(cause, ErrTaskDeadlineExceeded) {
				return nil, e.finishFailed(ctx, task, step.ID, cause)
			}

			// Interrupted by shutdown: leave the task running, it will be
			// picked up again.
			return nil, cause
		}

		result, outcome, err := e.runStep(ctx, step, task, &executionCtx, logger)

		if result != nil {
			task.StepResults = append(task.StepResults, result)

			if err := e.store.Append(ctx, task); err != nil {
				return nil, fmt.Errorf("failed to record step result: %w", err)
			}
		}

		if err != nil {
			return nil, e.finishFailed(ctx, task, step.ID, err)
		}

		if outcome != nil {
			if outcome.Suspended {
				task.CurrentStepIndex = index + 1
				task.Status = models.TaskStatusWaiting

				if err := e.store.Append(ctx, task); err != nil {
					return nil, fmt.Errorf("failed to record task suspension: %w", err)
				}

				logger.InfoContext(ctx, "Task suspended", "step_id", step.ID, "resume_at", outcome.ResumeAt)
			}

			return outcome, nil
		}

		if result != nil && result.Status == models.StepStatusSuccess && step.Kind == models.StepKindCondition {
			if matched, ok := conditionMatched(result); ok && !matched {
				// Short-circuit: the task completes, the remaining steps
				// simply never get a result.
				logger.InfoContext(ctx, "Condition not met, short-circuiting", "step_id", step.ID)

				return nil, e.finishSuccess(ctx, task, &executionCtx)
			}
		}
	}

	return nil, e.finishSuccess(ctx, task, &executionCtx)
}

// runStep dispatches over the closed step kind set. Adding a kind means
// extending models.StepKind and this switch.
func (e *Executor) runStep(ctx context.Context, step *models.Step, task *models.Task, executionCtx *models.ExecutionContext, logger *slog.Logger) (*models.StepResult, *Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepKindKey, string(step.Kind)),
	))
	defer span.End()

	result := &models.StepResult{
		StepID:    step.ID,
		Status:    models.StepStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	finish := func(data any, err error) (*models.StepResult, *Outcome, error) {
		completed := time.Now().UTC()
		result.CompletedAt = &completed

		if err != nil {
			result.Status = models.StepStatusFailed
			result.Error = err.Error()
			otelhelper.SetError(span, err, attribute.String(otelhelper.StepIDKey, step.ID))

			return result, nil, err
		}

		result.Status = models.StepStatusSuccess
		result.Data = data

		return result, nil, nil
	}

	switch step.Kind {
	case models.StepKindAction:
		data, err := e.runAction(ctx, step, *executionCtx, logger)
		if err == nil {
			executionCtx.StepResults[step.ID] = data
		}

		return finish(data, err)

	case models.StepKindCondition:
		rule, err := step.ConditionRule()
		if err != nil {
			return finish(nil, err)
		}

		matched, err := rule.Evaluate(executionCtx.Data())
		if err != nil {
			return finish(nil, err)
		}

		executionCtx.StepResults[step.ID] = map[string]any{"matched": matched}

		return finish(map[string]any{"matched": matched}, nil)

	case models.StepKindDelay:
		duration, err := step.DelayDuration()
		if err != nil {
			return finish(nil, err)
		}

		resumeAt := time.Now().UTC().Add(duration)
		executionCtx.StepResults[step.ID] = map[string]any{"delayed_until": resumeAt}

		stepResult, _, _ := finish(map[string]any{"delayed_until": resumeAt}, nil)

		return stepResult, &Outcome{Suspended: true, ResumeAt: resumeAt}, nil

	case models.StepKindWebhookCall:
		record, err := e.runWebhookCall(ctx, step, task, *executionCtx)
		if record != nil {
			result.DeliveryID = record.ID
		}

		if err != nil {
			return finish(nil, err)
		}

		data := map[string]any{"delivery_id": record.ID, "status": string(record.Status)}
		executionCtx.StepResults[step.ID] = data

		return finish(data, nil)

	default:
		return finish(nil, fmt.Errorf("step %s has kind %q: %w", step.ID, step.Kind, ErrUnknownStepKind))
	}
}

func (e *Executor) runAction(ctx context.Context, step *models.Step, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	actionType, err := step.ActionType()
	if err != nil {
		return nil, err
	}

	action, err := e.registry.Create(actionType, step.Configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create action for step %s: %w", step.ID, err)
	}

	data, err := action.Execute(ctx, executionCtx, logger.With("step_id", step.ID))
	if err != nil {
		return nil, fmt.Errorf("action %s failed: %w", actionType, err)
	}

	return data, nil
}

func (e *Executor) runWebhookCall(ctx context.Context, step *models.Step, task *models.Task, executionCtx models.ExecutionContext) (*models.Delivery, error) {
	endpointID, err := step.WebhookEndpointID()
	if err != nil {
		return nil, err
	}

	endpoint, err := e.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoint %s: %w", endpointID, err)
	}

	payload := map[string]any{
		"workflow_id":  task.WorkflowID,
		"task_id":      task.ID,
		"step_id":      step.ID,
		"input":        executionCtx.Input,
		"step_results": executionCtx.StepResults,
	}

	return e.deliverer.Deliver(ctx, endpoint, step.WebhookEventType(), payload)
}

// boundaryViolation reports the reason execution must stop before the next
// step, if any.
func (e *Executor) boundaryViolation(ctx context.Context, task *models.Task) error {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, ErrTaskCancelled) {
			return ErrTaskCancelled
		}

		return cause
	}

	if task.Deadline != nil && time.Now().After(*task.Deadline) {
		return ErrTaskDeadlineExceeded
	}

	return nil
}

func (e *Executor) finishSuccess(ctx context.Context, task *models.Task, executionCtx *models.ExecutionContext) error {
	now := time.Now().UTC()
	task.Status = models.TaskStatusSuccess
	task.CompletedAt = &now
	task.Output = executionCtx.StepResults

	if err := e.store.Append(context.WithoutCancel(ctx), task); err != nil {
		return fmt.Errorf("failed to record task completion: %w", err)
	}

	e.publish(ctx, task.ID, events.TaskCompleted{
		BaseEvent:     events.NewBaseEvent(events.TaskCompletedEvent),
		TaskID:        task.ID,
		WorkflowID:    task.WorkflowID,
		DurationMs:    now.Sub(task.StartedAt).Milliseconds(),
		StepsExecuted: len(task.StepResults),
		Output:        task.Output,
	})

	return nil
}

func (e *Executor) finishFailed(ctx context.Context, task *models.Task, stepID string, cause error) error {
	now := time.Now().UTC()
	task.Status = models.TaskStatusFailed
	task.CompletedAt = &now
	task.Error = cause.Error()
	task.FailureKind = failureKind(cause)

	ctx = context.WithoutCancel(ctx)

	if err := e.store.Append(ctx, task); err != nil {
		return fmt.Errorf("failed to record task failure: %w", err)
	}

	if task.FailureKind == models.FailureKindCancelled {
		e.publish(ctx, task.ID, events.TaskCancelled{
			BaseEvent:  events.NewBaseEvent(events.TaskCancelledEvent),
			TaskID:     task.ID,
			WorkflowID: task.WorkflowID,
			Reason:     cause.Error(),
		})
	} else {
		e.publish(ctx, task.ID, events.TaskFailed{
			BaseEvent:     events.NewBaseEvent(events.TaskFailedEvent),
			TaskID:        task.ID,
			WorkflowID:    task.WorkflowID,
			StepID:        stepID,
			FailureKind:   task.FailureKind,
			Error:         task.Error,
			DurationMs:    now.Sub(task.StartedAt).Milliseconds(),
			StepsExecuted: len(task.StepResults),
		})
	}

	return fmt.Errorf("task %s failed: %w", task.ID, cause)
}

func (e *Executor) publish(ctx context.Context, key string, event events.Event) {
	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func failureKind(cause error) models.FailureKind {
	switch {
	case errors.Is(cause, ErrTaskCancelled):
		return models.FailureKindCancelled
	case errors.Is(cause, ErrTaskDeadlineExceeded):
		return models.FailureKindTimeout
	default:
		return models.FailureKindStepError
	}
}

// resultData rebuilds the step-results view when a task resumes.
func resultData(task *models.Task) map[string]any {
	data := make(map[string]any, len(task.StepResults))

	for _, result := range task.StepResults {
		if result.Status == models.StepStatusSuccess {
			data[result.StepID] = result.Data
		}
	}

	return data
}

func conditionMatched(result *models.StepResult) (bool, bool) {
	data, ok := result.Data.(map[string]any)
	if !ok {
		return false, false
	}

	matched, ok := data["matched"].(bool)

	return matched, ok
}

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/events"
	"github.com/kazihq/zapflow/pkg/history"
	"github.com/kazihq/zapflow/pkg/models"
)

// ManagerOptions tune the worker pool.
type ManagerOptions struct {
	// Workers is the size of the worker pool. Defaults to 4.
	Workers int
	// TaskBudget is the optional wall-clock budget stamped on new tasks as a
	// deadline. Zero means no deadline.
	TaskBudget time.Duration
}

// Manager owns the task lifecycle around the executor: it matches fired
// triggers to workflows, schedules tasks onto a bounded worker pool by
// priority, re-enqueues suspended tasks when their delay elapses and applies
// cancellation at step boundaries.
type Manager struct {
	workerID   string
	repository *Repository
	executor   *Executor
	store      *history.Store
	matcher    *TriggerMatcher
	eventBus   eventbus.EventBus
	logger     *slog.Logger
	options    ManagerOptions

	queue *taskQueue

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc

	wg sync.WaitGroup
}

func NewManager(
	workerID string,
	repository *Repository,
	executor *Executor,
	store *history.Store,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	options ManagerOptions,
) *Manager {
	if options.Workers <= 0 {
		options.Workers = 4
	}

	return &Manager{
		workerID:   workerID,
		repository: repository,
		executor:   executor,
		store:      store,
		matcher:    NewTriggerMatcher(logger),
		eventBus:   eventBus,
		logger:     logger.With("module", "worker_manager", "worker_id", workerID),
		options:    options,
		queue:      newTaskQueue(),
		running:    make(map[string]context.CancelCauseFunc),
	}
}

// Start registers the trigger handler and launches the worker pool. Workers
// stop when ctx is cancelled and the queue drains.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.eventBus.Handle(events.TriggerFiredEvent, func(ctx context.Context, event any) error {
		switch fired := event.(type) {
		case events.TriggerFired:
			return m.HandleTrigger(ctx, fired)
		case *events.TriggerFired:
			return m.HandleTrigger(ctx, *fired)
		default:
			return fmt.Errorf("unexpected event payload %T", event)
		}
	}); err != nil {
		return fmt.Errorf("failed to register trigger handler: %w", err)
	}

	for i := 0; i < m.options.Workers; i++ {
		m.wg.Add(1)

		go m.worker(ctx)
	}

	m.logger.InfoContext(ctx, "Worker pool started", "workers", m.options.Workers)

	return nil
}

// Stop closes the queue and waits for in-flight tasks to finish their current
// step and be recorded.
func (m *Manager) Stop() {
	m.queue.close()
	m.wg.Wait()
}

// HandleTrigger creates one task per matching active workflow, in workflow-id
// order.
func (m *Manager) HandleTrigger(ctx context.Context, fired events.TriggerFired) error {
	workflows, err := m.repository.FetchActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch workflows: %w", err)
	}

	matches := m.matcher.Match(workflows, fired.EventType, fired.Source)

	m.logger.InfoContext(ctx, "Trigger fired",
		"event_type", fired.EventType, "source", fired.Source, "matches", len(matches))

	for _, match := range matches {
		if _, err := m.createTask(ctx, match.Workflow, match.MatchedTrigger.ID, fired.Data); err != nil {
			m.logger.ErrorContext(ctx, "Failed to create task",
				"workflow_id", match.Workflow.ID, "error", err)
		}
	}

	return nil
}

// RunWorkflow creates and enqueues a task directly, bypassing trigger
// matching. Used for manual runs.
func (m *Manager) RunWorkflow(ctx context.Context, workflow *models.Workflow, input map[string]any) (*models.Task, error) {
	if !workflow.Runnable() {
		return nil, fmt.Errorf("workflow %s is %s: %w", workflow.ID, workflow.Status, ErrWorkflowNotRunnable)
	}

	return m.createTask(ctx, workflow, "", input)
}

// Replay creates a fresh task from a terminal task's input. The original task
// is never touched; the new task snapshots the workflow's current step list.
func (m *Manager) Replay(ctx context.Context, taskID string) (*models.Task, error) {
	original, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !original.Status.Terminal() {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, original.Status, ErrTaskNotTerminal)
	}

	workflow, err := m.repository.FetchByID(ctx, original.WorkflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.Runnable() {
		return nil, fmt.Errorf("workflow %s is %s: %w", workflow.ID, workflow.Status, ErrWorkflowNotRunnable)
	}

	return m.createTask(ctx, workflow, "", original.Input)
}

// CancelTask cancels a task at its next step boundary. Cancelling a queued or
// suspended task finalizes it immediately; cancelling a terminal task is a
// no-op.
func (m *Manager) CancelTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	cancel, isRunning := m.running[taskID]
	m.mu.Unlock()

	if isRunning {
		cancel(ErrTaskCancelled)

		return nil
	}

	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if task.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusFailed
	task.FailureKind = models.FailureKindCancelled
	task.Error = ErrTaskCancelled.Error()
	task.CompletedAt = &now

	if err := m.store.Append(ctx, task); err != nil {
		return fmt.Errorf("failed to record cancellation: %w", err)
	}

	m.publish(ctx, task.ID, events.TaskCancelled{
		BaseEvent:  events.NewBaseEvent(events.TaskCancelledEvent),
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		Reason:     ErrTaskCancelled.Error(),
	})

	return nil
}

func (m *Manager) createTask(ctx context.Context, workflow *models.Workflow, triggerID string, input map[string]any) (*models.Task, error) {
	task := &models.Task{
		ID:           uuid.Must(uuid.NewV7()).String(),
		WorkflowID:   workflow.ID,
		StepsVersion: workflow.StepsVersion,
		Steps:        models.CloneSteps(workflow.Steps),
		Status:       models.TaskStatusWaiting,
		Priority:     workflow.Priority,
		Input:        input,
		StepResults:  []*models.StepResult{},
		StartedAt:    time.Now().UTC(),
	}

	if m.options.TaskBudget > 0 {
		deadline := task.StartedAt.Add(m.options.TaskBudget)
		task.Deadline = &deadline
	}

	if err := m.store.Append(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to record task: %w", err)
	}

	workflow.RunCount++
	if err := m.repository.Save(ctx, workflow); err != nil {
		m.logger.ErrorContext(ctx, "Failed to update run counter", "workflow_id", workflow.ID, "error", err)
	}

	m.publish(ctx, task.ID, events.TaskCreated{
		BaseEvent:  events.NewBaseEvent(events.TaskCreatedEvent),
		TaskID:     task.ID,
		WorkflowID: workflow.ID,
		TriggerID:  triggerID,
	})

	m.queue.push(task)

	return task, nil
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		task, ok := m.queue.pop(ctx)
		if !ok {
			return
		}

		m.execute(ctx, task)
	}
}

func (m *Manager) execute(ctx context.Context, task *models.Task) {
	// Re-read the record: the task may have been cancelled while queued.
	current, err := m.store.Get(ctx, task.ID)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load task", "task_id", task.ID, "error", err)

		return
	}

	if current.Status.Terminal() {
		return
	}

	workflow, err := m.repository.FetchByID(ctx, current.WorkflowID)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load workflow", "task_id", current.ID, "error", err)

		return
	}

	taskCtx, cancel := context.WithCancelCause(ctx)

	m.mu.Lock()
	m.running[current.ID] = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.running, current.ID)
		m.mu.Unlock()

		cancel(nil)
	}()

	outcome, err := m.executor.Run(taskCtx, workflow, current)
	if err != nil {
		m.logger.WarnContext(ctx, "Task did not complete", "task_id", current.ID, "error", err)

		return
	}

	if outcome != nil && outcome.Suspended {
		m.scheduleResume(current, outcome.ResumeAt)
	}
}

// scheduleResume re-enqueues a suspended task when its delay elapses. The
// wait happens on a timer, not a worker.
func (m *Manager) scheduleResume(task *models.Task, resumeAt time.Time) {
	delay := time.Until(resumeAt)
	if delay < 0 {
		delay = 0
	}

	time.AfterFunc(delay, func() {
		m.queue.push(task)
	})
}

func (m *Manager) publish(ctx context.Context, key string, event events.Event) {
	if err := m.eventBus.Publish(ctx, key, event); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// taskQueue is a priority queue: workers pop the highest-priority task first,
// FIFO within a priority.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*models.Task
	seq    map[string]int
	next   int
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{seq: make(map[string]int)}
	q.cond = sync.NewCond(&q.mu)

	return q
}

func (q *taskQueue) push(task *models.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.seq[task.ID] = q.next
	q.next++

	q.items = append(q.items, task)
	sort.SliceStable(q.items, func(i, j int) bool {
		left, right := q.items[i], q.items[j]
		if left.Priority.Weight() != right.Priority.Weight() {
			return left.Priority.Weight() > right.Priority.Weight()
		}

		return q.seq[left.ID] < q.seq[right.ID]
	})

	q.cond.Broadcast()
}

// pop blocks until a task is available, the queue closes or ctx is done.
func (q *taskQueue) pop(ctx context.Context) (*models.Task, bool) {
	stop := context.AfterFunc(ctx, func() {
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}

	if q.closed || ctx.Err() != nil || len(q.items) == 0 {
		return nil, false
	}

	task := q.items[0]
	q.items = q.items[1:]
	delete(q.seq, task.ID)

	return task, true
}

func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

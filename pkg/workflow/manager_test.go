package workflow_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazihq/zapflow/pkg/events"
	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/testutil"
	"github.com/kazihq/zapflow/pkg/workflow"
)

func newManager(t *testing.T, e *engine, options workflow.ManagerOptions) *workflow.Manager {
	t.Helper()

	return workflow.NewManager("worker-test", e.repository, e.executor, e.store, e.bus, slog.Default(), options)
}

func startManager(t *testing.T, m *workflow.Manager) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))

	t.Cleanup(func() {
		cancel()
		m.Stop()
	})
}

func logStep(id, message string) *models.Step {
	return testutil.LogStep(id, message)
}

func TestManagerHandleTriggerMatchesInWorkflowIDOrder(t *testing.T) {
	e := newEngine(t)

	trigger := &models.WorkflowTrigger{ID: "t1", EventType: "order.created"}

	first := activeWorkflow(logStep("s1", "first"))
	first.ID = "00000000-0000-0000-0000-00000000000a"
	first.Triggers = []*models.WorkflowTrigger{trigger}

	second := activeWorkflow(logStep("s1", "second"))
	second.ID = "00000000-0000-0000-0000-00000000000b"
	second.Triggers = []*models.WorkflowTrigger{trigger}

	paused := activeWorkflow(logStep("s1", "paused"))
	paused.Status = models.WorkflowStatusPaused
	paused.Triggers = []*models.WorkflowTrigger{trigger}

	unrelated := activeWorkflow(logStep("s1", "unrelated"))
	unrelated.Triggers = []*models.WorkflowTrigger{{ID: "t2", EventType: "user.signup"}}

	for _, wf := range []*models.Workflow{second, first, paused, unrelated} {
		require.NoError(t, e.persistence.WorkflowRepository().Save(context.Background(), wf))
	}

	m := newManager(t, e, workflow.ManagerOptions{Workers: 2})
	startManager(t, m)

	fired := events.TriggerFired{
		BaseEvent: events.NewBaseEvent(events.TriggerFiredEvent),
		EventType: "order.created",
		Source:    "shop",
		Data:      map[string]any{"order_id": "o-1"},
	}
	require.NoError(t, m.HandleTrigger(context.Background(), fired))

	created := e.bus.EventsOfType(events.TaskCreatedEvent)
	require.Len(t, created, 2)

	firstCreated, ok := created[0].(events.TaskCreated)
	require.True(t, ok)
	secondCreated, ok := created[1].(events.TaskCreated)
	require.True(t, ok)
	assert.Equal(t, first.ID, firstCreated.WorkflowID)
	assert.Equal(t, second.ID, secondCreated.WorkflowID)

	require.Eventually(t, func() bool {
		return len(e.bus.EventsOfType(events.TaskCompletedEvent)) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// Run counters were bumped.
	updated, err := e.repository.FetchByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.RunCount)
}

func TestManagerSchedulesByPriority(t *testing.T) {
	e := newEngine(t)

	low := activeWorkflow(logStep("s1", "low"))
	low.Priority = models.PriorityLow
	urgent := activeWorkflow(logStep("s1", "urgent"))
	urgent.Priority = models.PriorityUrgent

	for _, wf := range []*models.Workflow{low, urgent} {
		require.NoError(t, e.persistence.WorkflowRepository().Save(context.Background(), wf))
	}

	m := newManager(t, e, workflow.ManagerOptions{Workers: 1})

	// Enqueue before starting the single worker so the queue orders them.
	lowTask, err := m.RunWorkflow(context.Background(), low, nil)
	require.NoError(t, err)
	urgentTask, err := m.RunWorkflow(context.Background(), urgent, nil)
	require.NoError(t, err)

	startManager(t, m)

	require.Eventually(t, func() bool {
		return len(e.bus.EventsOfType(events.TaskCompletedEvent)) == 2
	}, 5*time.Second, 10*time.Millisecond)

	completed := e.bus.EventsOfType(events.TaskCompletedEvent)

	firstDone, ok := completed[0].(events.TaskCompleted)
	require.True(t, ok)
	assert.Equal(t, urgentTask.ID, firstDone.TaskID)

	secondDone, ok := completed[1].(events.TaskCompleted)
	require.True(t, ok)
	assert.Equal(t, lowTask.ID, secondDone.TaskID)
}

func TestManagerRunWorkflowRequiresActive(t *testing.T) {
	e := newEngine(t)

	draft := activeWorkflow(logStep("s1", "draft"))
	draft.Status = models.WorkflowStatusDraft
	require.NoError(t, e.persistence.WorkflowRepository().Save(context.Background(), draft))

	m := newManager(t, e, workflow.ManagerOptions{})

	_, err := m.RunWorkflow(context.Background(), draft, nil)
	require.Error(t, err)
	assert.True(t, workflow.IsWorkflowNotRunnable(err))
}

func TestManagerCancelQueuedTaskIsIdempotent(t *testing.T) {
	e := newEngine(t)

	wf := activeWorkflow(logStep("s1", "queued"))
	require.NoError(t, e.persistence.WorkflowRepository().Save(context.Background(), wf))

	// No workers running: the task stays queued.
	m := newManager(t, e, workflow.ManagerOptions{})

	task, err := m.RunWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)

	require.NoError(t, m.CancelTask(context.Background(), task.ID))

	stored, err := e.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, stored.Status)
	assert.Equal(t, models.FailureKindCancelled, stored.FailureKind)

	// Cancelling a terminal task is a no-op.
	require.NoError(t, m.CancelTask(context.Background(), task.ID))
	require.Len(t, e.bus.EventsOfType(events.TaskCancelledEvent), 1)
}

func TestManagerCancelSuspendedTask(t *testing.T) {
	e := newEngine(t)

	wf := activeWorkflow(
		&models.Step{ID: "wait", Name: "Wait", Kind: models.StepKindDelay,
			Configuration: map[string]any{"delay_seconds": 3600}},
		logStep("after", "never runs"),
	)
	require.NoError(t, e.persistence.WorkflowRepository().Save(context.Background(), wf))

	m := newManager(t, e, workflow.ManagerOptions{Workers: 1})
	startManager(t, m)

	task, err := m.RunWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)

	// Wait until the delay step suspended the task.
	require.Eventually(t, func() bool {
		stored, err := e.store.Get(context.Background(), task.ID)

		return err == nil && stored.CurrentStepIndex == 1 && stored.Status == models.TaskStatusWaiting
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.CancelTask(context.Background(), task.ID))

	stored, err := e.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, stored.Status)
	assert.Equal(t, models.FailureKindCancelled, stored.FailureKind)
	assert.Nil(t, stored.ResultFor("after"))
}

func TestManagerResumeIgnoresWorkflowEdits(t *testing.T) {
	e := newEngine(t)

	wf := activeWorkflow(
		&models.Step{ID: "wait", Name: "Wait", Kind: models.StepKindDelay,
			Configuration: map[string]any{"delay_seconds": 1}},
		logStep("notify", "v1"),
	)
	require.NoError(t, e.persistence.WorkflowRepository().Save(context.Background(), wf))

	m := newManager(t, e, workflow.ManagerOptions{Workers: 1})
	startManager(t, m)

	task, err := m.RunWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)

	// Wait until the delay step suspends the task.
	require.Eventually(t, func() bool {
		stored, err := e.store.Get(context.Background(), task.ID)

		return err == nil && stored.Status == models.TaskStatusWaiting && stored.CurrentStepIndex == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Edit the step list while the task is suspended: the steps version bumps
	// but the suspended task keeps its snapshot.
	edited := activeWorkflow(
		&models.Step{ID: "wait", Name: "Wait", Kind: models.StepKindDelay,
			Configuration: map[string]any{"delay_seconds": 1}},
		logStep("notify", "v2"),
	)

	updated, err := e.repository.Update(context.Background(), wf.ID, edited)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.StepsVersion)

	require.Eventually(t, func() bool {
		stored, err := e.store.Get(context.Background(), task.ID)

		return err == nil && stored.Status == models.TaskStatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := e.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.StepsVersion)

	result := stored.ResultFor("notify")
	require.NotNil(t, result)

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v1", data["message"])
}

func TestManagerReplayCreatesFreshTask(t *testing.T) {
	e := newEngine(t)

	wf := activeWorkflow(logStep("s1", "replayable"))
	require.NoError(t, e.persistence.WorkflowRepository().Save(context.Background(), wf))

	m := newManager(t, e, workflow.ManagerOptions{Workers: 1})
	startManager(t, m)

	task, err := m.RunWorkflow(context.Background(), wf, map[string]any{"n": float64(7)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := e.store.Get(context.Background(), task.ID)

		return err == nil && stored.Status == models.TaskStatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	replayed, err := m.Replay(context.Background(), task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, replayed.ID)
	assert.Equal(t, task.Input, replayed.Input)
	assert.Equal(t, task.StepsVersion, replayed.StepsVersion)

	require.Eventually(t, func() bool {
		stored, err := e.store.Get(context.Background(), replayed.ID)

		return err == nil && stored.Status == models.TaskStatusSuccess
	}, 5*time.Second, 10*time.Millisecond)

	// The original task is untouched.
	original, err := e.store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, original.Status)
}

func TestManagerReplayRequiresTerminalTask(t *testing.T) {
	e := newEngine(t)

	wf := activeWorkflow(logStep("s1", "pending"))
	require.NoError(t, e.persistence.WorkflowRepository().Save(context.Background(), wf))

	m := newManager(t, e, workflow.ManagerOptions{})

	task, err := m.RunWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)

	_, err = m.Replay(context.Background(), task.ID)
	require.Error(t, err)
	assert.True(t, workflow.IsTaskNotTerminal(err))
}

package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

func TestWorkflowRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	repo := p.WorkflowRepository()

	workflow := &models.Workflow{
		ID:     "wf-1",
		Name:   "Invoice followup",
		Status: models.WorkflowStatusDraft,
		Steps: []*models.Step{
			{ID: "s1", Name: "Log", Kind: models.StepKindAction, Configuration: map[string]any{"action_type": "log"}},
		},
		Triggers:  []*models.WorkflowTrigger{{ID: "t1", EventType: "invoice.paid"}},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.Save(ctx, workflow))

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice followup", loaded.Name)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, models.StepKindAction, loaded.Steps[0].Kind)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, "wf-1"))

	_, err = repo.GetByID(ctx, "wf-1")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestEndpointRepositoryRestoresStats(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	repo := p.EndpointRepository()

	endpoint := &models.WebhookEndpoint{
		ID:     "ep-1",
		Name:   "Billing hook",
		URL:    "https://example.com/hook",
		Events: []string{"*"},
		Status: models.EndpointStatusActive,
		Stats:  models.NewDeliveryStats(),
	}
	endpoint.Stats.RecordFailure()

	require.NoError(t, repo.Save(ctx, endpoint))

	loaded, err := repo.GetByID(ctx, "ep-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Stats)
	assert.Equal(t, int64(1), loaded.Stats.Snapshot().ConsecutiveFailures)
}

func TestTaskRepositoryQueryOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	repo := p.TaskRepository()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, status := range []models.TaskStatus{models.TaskStatusSuccess, models.TaskStatusFailed, models.TaskStatusSuccess} {
		task := &models.Task{
			ID:         "task-" + string(rune('a'+i)),
			WorkflowID: "wf-1",
			Status:     status,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Save(ctx, task))
	}

	tasks, err := repo.Query(ctx, persistence.TaskFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "task-c", tasks[0].ID, "newest first")

	failed, err := repo.Query(ctx, persistence.TaskFilter{Status: models.TaskStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "task-b", failed[0].ID)

	limited, err := repo.Query(ctx, persistence.TaskFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	windowed, err := repo.Query(ctx, persistence.TaskFilter{From: base.Add(30 * time.Second), To: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "task-b", windowed[0].ID)
}

func TestDeliveryRepositoryListByEndpoint(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence(t.TempDir())
	repo := p.DeliveryRepository()

	now := time.Now().UTC()

	deliveries := []*models.Delivery{
		{ID: "d1", EndpointID: "ep-1", Status: models.DeliveryStatusDelivered, CreatedAt: now},
		{ID: "d2", EndpointID: "ep-1", Status: models.DeliveryStatusFailed, CreatedAt: now.Add(time.Second)},
		{ID: "d3", EndpointID: "ep-2", Status: models.DeliveryStatusDelivered, CreatedAt: now},
	}
	for _, delivery := range deliveries {
		require.NoError(t, repo.Save(ctx, delivery))
	}

	listed, err := repo.ListByEndpoint(ctx, "ep-1", "", 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "d2", listed[0].ID, "newest first")

	failed, err := repo.ListByEndpoint(ctx, "ep-1", models.DeliveryStatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "d2", failed[0].ID)
}

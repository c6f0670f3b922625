package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logaction "github.com/kazihq/zapflow/pkg/actions/log"
	"github.com/kazihq/zapflow/pkg/actions/transform"
	"github.com/kazihq/zapflow/pkg/delivery"
	"github.com/kazihq/zapflow/pkg/history"
	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence/file"
	"github.com/kazihq/zapflow/pkg/registry"
	"github.com/kazihq/zapflow/pkg/services"
	"github.com/kazihq/zapflow/pkg/testutil"
	"github.com/kazihq/zapflow/pkg/web"
	"github.com/kazihq/zapflow/pkg/workflow"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.Default()
	p := file.NewPersistence(t.TempDir())
	bus := testutil.NewRecordingBus()
	store := history.NewStore(p.TaskRepository(), logger)

	actionRegistry := registry.NewRegistry(logger)
	require.NoError(t, actionRegistry.Register(logaction.NewActionFactory()))
	require.NoError(t, actionRegistry.Register(transform.NewActionFactory()))

	deliverer := delivery.NewDeliverer(p.EndpointRepository(), p.DeliveryRepository(), bus, logger)
	repository := workflow.NewRepository(p.WorkflowRepository())
	executor := workflow.NewExecutor(store, actionRegistry, deliverer, p.EndpointRepository(), bus, logger)
	manager := workflow.NewManager("worker-test", repository, executor, store, bus, logger, workflow.ManagerOptions{})

	handlers := web.NewAPIHandlers(
		services.NewWorkflowService(repository, manager, actionRegistry, bus, logger),
		services.NewTaskService(store, manager, logger),
		services.NewEndpointService(p.EndpointRepository(), p.DeliveryRepository(), deliverer, logger),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	responseBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, responseBody
}

func createWorkflow(t *testing.T, app *fiber.App) models.Workflow {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Name: "Order notifications",
		Steps: []web.StepRequest{
			{ID: "greet", Name: "Greet", Kind: "action",
				Configuration: map[string]any{"action_type": "log", "message": "hello"}},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow
	require.NoError(t, json.Unmarshal(body, &created))

	return created
}

func TestCreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateWorkflowRequest{
				Name:        "Order notifications",
				Description: "Notify downstream systems",
				Priority:    "high",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing name",
			requestBody:    web.CreateWorkflowRequest{Description: "no name"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "name too short",
			requestBody:    web.CreateWorkflowRequest{Name: "ab"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "invalid priority",
			requestBody: web.CreateWorkflowRequest{
				Name:     "Order notifications",
				Priority: "asap",
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "invalid step kind",
			requestBody: web.CreateWorkflowRequest{
				Name:  "Order notifications",
				Steps: []web.StepRequest{{ID: "s1", Kind: "teleport"}},
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "step config rejected by action schema",
			requestBody: web.CreateWorkflowRequest{
				Name: "Order notifications",
				Steps: []web.StepRequest{
					{ID: "s1", Kind: "action", Configuration: map[string]any{"action_type": "log"}},
				},
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "invalid json",
			requestBody:    "not json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			resp, body := doJSON(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				var created models.Workflow
				require.NoError(t, json.Unmarshal(body, &created))
				assert.NotEmpty(t, created.ID)
				assert.Equal(t, models.WorkflowStatusDraft, created.Status)
			}
		})
	}
}

func TestWorkflowLifecycleRoutes(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var activated models.Workflow
	require.NoError(t, json.Unmarshal(body, &activated))
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Archived is terminal: further transitions conflict.
	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWorkflowStatusPatchRoute(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app)

	resp, body := doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID+"/status",
		web.UpdateWorkflowStatusRequest{Status: "active"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var activated models.Workflow
	require.NoError(t, json.Unmarshal(body, &activated))
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	resp, _ = doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID+"/status",
		web.UpdateWorkflowStatusRequest{Status: "paused"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID+"/status",
		web.UpdateWorkflowStatusRequest{Status: "deleted"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID+"/status",
		web.UpdateWorkflowStatusRequest{Status: "archived"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Archived is terminal.
	resp, _ = doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID+"/status",
		web.UpdateWorkflowStatusRequest{Status: "active"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListWorkflowsFilters(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	first := createWorkflow(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows", web.CreateWorkflowRequest{
		Name:        "Billing sync",
		Description: "Push invoices downstream",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var second models.Workflow
	require.NoError(t, json.Unmarshal(body, &second))

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/"+second.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/workflows?search=billing", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), second.ID)
	assert.NotContains(t, string(body), first.ID)

	// Search also matches descriptions.
	resp, body = doJSON(t, app, http.MethodGet, "/workflows?search=invoices", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), second.ID)

	resp, body = doJSON(t, app, http.MethodGet, "/workflows?status=draft", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), first.ID)
	assert.NotContains(t, string(body), second.ID)

	resp, body = doJSON(t, app, http.MethodGet, "/workflows?status=active&search=order", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":0`)
}

func TestUpdateWorkflowPartial(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app)

	newName := "Renamed notifications"

	resp, body := doJSON(t, app, http.MethodPatch, "/workflows/"+created.ID, web.UpdateWorkflowRequest{
		Name: &newName,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Workflow
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, newName, updated.Name)

	// Untouched fields survive the partial update.
	require.Len(t, updated.Steps, 1)
	assert.Equal(t, "greet", updated.Steps[0].ID)
	assert.Equal(t, created.StepsVersion, updated.StepsVersion)
}

func TestRunWorkflowQueuesTask(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app)

	// Draft workflows cannot run.
	resp, _ := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/run", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/run", web.RunWorkflowRequest{
		Input: map[string]any{"order_id": "o-1"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var task models.Task
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Equal(t, created.ID, task.WorkflowID)
	assert.Equal(t, models.TaskStatusWaiting, task.Status)

	// The task is queryable through the history API.
	resp, body = doJSON(t, app, http.MethodGet, "/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored models.Task
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, "o-1", stored.Input["order_id"])

	resp, body = doJSON(t, app, http.MethodGet, "/tasks?workflow_id="+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), task.ID)
}

func TestCancelTaskRoute(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	created := createWorkflow(t, app)

	resp, _ := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var task models.Task
	require.NoError(t, json.Unmarshal(body, &task))

	resp, _ = doJSON(t, app, http.MethodPost, "/tasks/"+task.ID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelled models.Task
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.TaskStatusFailed, cancelled.Status)
	assert.Equal(t, models.FailureKindCancelled, cancelled.FailureKind)

	// Replaying the cancelled task creates a fresh one.
	resp, body = doJSON(t, app, http.MethodPost, "/tasks/"+task.ID+"/replay", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var replayed models.Task
	require.NoError(t, json.Unmarshal(body, &replayed))
	assert.NotEqual(t, task.ID, replayed.ID)
}

func TestGetWorkflowNotFound(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/webhooks/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful registration",
			requestBody: web.RegisterEndpointRequest{
				Name: "billing",
				URL:  "https://billing.example.com/hooks",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing url",
			requestBody:    web.RegisterEndpointRequest{Name: "billing"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "invalid url",
			requestBody: web.RegisterEndpointRequest{
				Name: "billing",
				URL:  "not a url",
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			resp, body := doJSON(t, app, http.MethodPost, "/webhooks", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				var endpoint models.WebhookEndpoint
				require.NoError(t, json.Unmarshal(body, &endpoint))
				assert.NotEmpty(t, endpoint.ID)
				assert.NotEmpty(t, endpoint.Secret)
				assert.Equal(t, models.EndpointStatusActive, endpoint.Status)
			}
		})
	}
}

func TestUpdateEndpointStatusRoute(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/webhooks", web.RegisterEndpointRequest{
		Name: "billing",
		URL:  "https://billing.example.com/hooks",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var endpoint models.WebhookEndpoint
	require.NoError(t, json.Unmarshal(body, &endpoint))

	resp, body = doJSON(t, app, http.MethodPatch, "/webhooks/"+endpoint.ID+"/status",
		web.UpdateEndpointStatusRequest{Status: "paused"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var paused models.WebhookEndpoint
	require.NoError(t, json.Unmarshal(body, &paused))
	assert.Equal(t, models.EndpointStatusPaused, paused.Status)

	// Unknown status values are a validation failure, not a malformed request.
	resp, _ = doJSON(t, app, http.MethodPatch, "/webhooks/"+endpoint.ID+"/status",
		web.UpdateEndpointStatusRequest{Status: "archived"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestEndpointDeliveriesRoute(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/webhooks", web.RegisterEndpointRequest{
		Name: "billing",
		URL:  "https://billing.example.com/hooks",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var endpoint models.WebhookEndpoint
	require.NoError(t, json.Unmarshal(body, &endpoint))

	resp, body = doJSON(t, app, http.MethodGet, "/webhooks/"+endpoint.ID+"/deliveries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":0`)

	resp, _ = doJSON(t, app, http.MethodGet, "/webhooks/"+endpoint.ID+"/deliveries?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteEndpointRoute(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/webhooks", web.RegisterEndpointRequest{
		Name: "temp",
		URL:  "https://temp.example.com/hooks",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var endpoint models.WebhookEndpoint
	require.NoError(t, json.Unmarshal(body, &endpoint))

	resp, _ = doJSON(t, app, http.MethodDelete, "/webhooks/"+endpoint.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/webhooks/"+endpoint.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

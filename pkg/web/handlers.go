package web

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
	"github.com/kazihq/zapflow/pkg/services"
)

type APIHandlers struct {
	workflowService *services.WorkflowService
	taskService     *services.TaskService
	endpointService *services.EndpointService
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.WorkflowService,
	taskService *services.TaskService,
	endpointService *services.EndpointService,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		taskService:     taskService,
		endpointService: endpointService,
		validator:       validator,
	}
}

// RegisterRoutes mounts every API route on the app. The same wiring serves
// the server binary and the handler tests.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Patch("/:id/status", h.UpdateWorkflowStatus)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/pause", h.PauseWorkflow)
	w.Post("/:id/archive", h.ArchiveWorkflow)
	w.Post("/:id/run", h.RunWorkflow)
	w.Post("/:id/duplicate", h.DuplicateWorkflow)

	t := app.Group("/tasks")
	t.Get("/", h.GetTasks)
	t.Get("/:id", h.GetTask)
	t.Post("/:id/replay", h.ReplayTask)
	t.Post("/:id/cancel", h.CancelTask)

	e := app.Group("/webhooks")
	e.Get("/", h.GetEndpoints)
	e.Post("/", h.RegisterEndpoint)
	e.Get("/:id", h.GetEndpoint)
	e.Patch("/:id/status", h.UpdateEndpointStatus)
	e.Delete("/:id", h.DeleteEndpoint)
	e.Post("/:id/test", h.TestEndpoint)
	e.Get("/:id/deliveries", h.GetEndpointDeliveries)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	if status := c.Query("status"); status != "" {
		filtered := make([]*models.Workflow, 0, len(workflows))

		for _, wf := range workflows {
			if wf.Status == models.WorkflowStatus(status) {
				filtered = append(filtered, wf)
			}
		}

		workflows = filtered
	}

	if search := c.Query("search"); search != "" {
		needle := strings.ToLower(search)
		filtered := make([]*models.Workflow, 0, len(workflows))

		for _, wf := range workflows {
			if strings.Contains(strings.ToLower(wf.Name), needle) ||
				strings.Contains(strings.ToLower(wf.Description), needle) {
				filtered = append(filtered, wf)
			}
		}

		workflows = filtered
	}

	return c.JSON(fiber.Map{"workflows": workflows, "count": len(workflows)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return requestValidation(c, err)
	}

	workflow := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Priority:    models.WorkflowPriority(req.Priority),
		Steps:       toModelSteps(req.Steps),
		Triggers:    toModelTriggers(req.Triggers),
		Tags:        req.Tags,
		Owners:      req.Owners,
		Variables:   req.Variables,
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return requestValidation(c, err)
	}

	existing, err := h.workflowService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Priority != nil {
		existing.Priority = models.WorkflowPriority(*req.Priority)
	}

	if req.Steps != nil {
		existing.Steps = toModelSteps(req.Steps)
	}

	if req.Triggers != nil {
		existing.Triggers = toModelTriggers(req.Triggers)
	}

	if req.Tags != nil {
		existing.Tags = req.Tags
	}

	if req.Owners != nil {
		existing.Owners = req.Owners
	}

	if req.Variables != nil {
		existing.Variables = req.Variables
	}

	updated, err := h.workflowService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateWorkflowStatus drives lifecycle transitions through a single PATCH
// route; the per-action POST routes below remain as aliases.
func (h *APIHandlers) UpdateWorkflowStatus(c fiber.Ctx) error {
	var req UpdateWorkflowStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return requestValidation(c, err)
	}

	var (
		workflow *models.Workflow
		err      error
	)

	switch models.WorkflowStatus(req.Status) {
	case models.WorkflowStatusActive:
		workflow, err = h.workflowService.Activate(c.Context(), c.Params("id"))
	case models.WorkflowStatusPaused:
		workflow, err = h.workflowService.Pause(c.Context(), c.Params("id"))
	default:
		workflow, err = h.workflowService.Archive(c.Context(), c.Params("id"))
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Archive(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// RunWorkflow queues a task for the workflow and returns it immediately;
// execution happens on the worker pool.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	task, err := h.workflowService.Run(c.Context(), c.Params("id"), req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(task)
}

func (h *APIHandlers) DuplicateWorkflow(c fiber.Ctx) error {
	duplicate, err := h.workflowService.Duplicate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(duplicate)
}

func (h *APIHandlers) GetTasks(c fiber.Ctx) error {
	filter, err := parseTaskFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	tasks, err := h.taskService.Query(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"tasks": tasks, "count": len(tasks)})
}

func parseTaskFilter(c fiber.Ctx) (persistence.TaskFilter, error) {
	filter := persistence.TaskFilter{
		WorkflowID: c.Query("workflow_id"),
		Status:     models.TaskStatus(c.Query("status")),
	}

	if from := c.Query("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, err
		}

		filter.From = parsed
	}

	if to := c.Query("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, err
		}

		filter.To = parsed
	}

	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return filter, err
		}

		filter.Limit = parsed
	}

	return filter, nil
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	task, err := h.taskService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) ReplayTask(c fiber.Ctx) error {
	replayed, err := h.taskService.Replay(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(replayed)
}

func (h *APIHandlers) CancelTask(c fiber.Ctx) error {
	if err := h.taskService.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) GetEndpoints(c fiber.Ctx) error {
	endpoints, err := h.endpointService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"endpoints": endpoints, "count": len(endpoints)})
}

func (h *APIHandlers) GetEndpoint(c fiber.Ctx) error {
	endpoint, err := h.endpointService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(endpoint)
}

func (h *APIHandlers) RegisterEndpoint(c fiber.Ctx) error {
	var req RegisterEndpointRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return requestValidation(c, err)
	}

	endpoint := &models.WebhookEndpoint{
		Name:              req.Name,
		URL:               req.URL,
		Secret:            req.Secret,
		Events:            req.Events,
		Headers:           req.Headers,
		RetryCount:        req.RetryCount,
		RetryDelaySeconds: req.RetryDelaySeconds,
		TimeoutMs:         req.TimeoutMs,
		VerifySSL:         req.VerifySSL == nil || *req.VerifySSL,
		BreakerThreshold:  req.BreakerThreshold,
	}

	registered, err := h.endpointService.Register(c.Context(), endpoint)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(registered)
}

func (h *APIHandlers) UpdateEndpointStatus(c fiber.Ctx) error {
	var req UpdateEndpointStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return requestValidation(c, err)
	}

	endpoint, err := h.endpointService.SetStatus(c.Context(), c.Params("id"), models.EndpointStatus(req.Status))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(endpoint)
}

func (h *APIHandlers) DeleteEndpoint(c fiber.Ctx) error {
	if err := h.endpointService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// TestEndpoint fires a synthetic delivery and reports the attempt record,
// even when the delivery itself failed.
func (h *APIHandlers) TestEndpoint(c fiber.Ctx) error {
	record, err := h.endpointService.Test(c.Context(), c.Params("id"))
	if err != nil {
		if record != nil {
			return c.Status(fiber.StatusBadGateway).JSON(record)
		}

		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetEndpointDeliveries(c fiber.Ctx) error {
	limit := 0

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "Invalid limit: "+err.Error())
		}

		limit = parsed
	}

	deliveries, err := h.endpointService.Deliveries(
		c.Context(),
		c.Params("id"),
		models.DeliveryStatus(c.Query("status")),
		limit,
	)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"deliveries": deliveries, "count": len(deliveries)})
}

// Package main provides the zapflow API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kazihq/zapflow/pkg/delivery"
	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/history"
	"github.com/kazihq/zapflow/pkg/otelhelper"
	"github.com/kazihq/zapflow/pkg/persistence"
	"github.com/kazihq/zapflow/pkg/registry"
	"github.com/kazihq/zapflow/pkg/services"
	"github.com/kazihq/zapflow/pkg/web"
	"github.com/kazihq/zapflow/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	manager     *workflow.Manager
	options     workflow.ManagerOptions
	tp          *sdktrace.TracerProvider
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	actionRegistry *registry.Registry,
	eventBus eventbus.EventBus,
	options workflow.ManagerOptions,
) *API {
	return &API{
		logger:      logger,
		persistence: p,
		registry:    actionRegistry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		options:     options,
	}
}

func (a *API) App(ctx context.Context) (*fiber.App, error) {
	tp, err := otelhelper.NewTracerProvider(ctx, "zapflow-api")
	if err != nil {
		return nil, err
	}

	a.tp = tp

	store := history.NewStore(a.persistence.TaskRepository(), a.logger)
	deliverer := delivery.NewDeliverer(
		a.persistence.EndpointRepository(),
		a.persistence.DeliveryRepository(),
		a.eventBus,
		a.logger,
	)
	repository := workflow.NewRepository(a.persistence.WorkflowRepository())
	executor := workflow.NewExecutor(
		store,
		a.registry,
		deliverer,
		a.persistence.EndpointRepository(),
		a.eventBus,
		a.logger,
	)

	a.manager = workflow.NewManager("api", repository, executor, store, a.eventBus, a.logger, a.options)
	if err := a.manager.Start(ctx); err != nil {
		return nil, err
	}

	handlers := web.NewAPIHandlers(
		services.NewWorkflowService(repository, a.manager, a.registry, a.eventBus, a.logger),
		services.NewTaskService(store, a.manager, a.logger),
		services.NewEndpointService(
			a.persistence.EndpointRepository(),
			a.persistence.DeliveryRepository(),
			deliverer,
			a.logger,
		),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Zapflow API")
	})

	app.Get("/health", func(c fiber.Ctx) error {
		if err := a.persistence.HealthCheck(c.Context()); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}

		return c.JSON(fiber.Map{"status": "healthy"})
	})

	handlers.RegisterRoutes(app)

	return app, nil
}

func (a *API) Start(ctx context.Context, port int) error {
	app, err := a.App(ctx)
	if err != nil {
		return err
	}

	return app.Listen(":" + strconv.Itoa(port))
}

func (a *API) Stop() {
	if a.manager != nil {
		a.manager.Stop()
	}

	if a.tp != nil {
		if err := a.tp.Shutdown(context.Background()); err != nil {
			a.logger.Error("Failed to shut down tracer provider", "error", err)
		}
	}
}

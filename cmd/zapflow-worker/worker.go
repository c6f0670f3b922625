// Package main provides the zapflow worker: it consumes trigger events from
// the bus and executes matching workflows on a local worker pool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/kazihq/zapflow/pkg/delivery"
	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/history"
	"github.com/kazihq/zapflow/pkg/otelhelper"
	"github.com/kazihq/zapflow/pkg/persistence"
	"github.com/kazihq/zapflow/pkg/registry"
	"github.com/kazihq/zapflow/pkg/triggers"
	"github.com/kazihq/zapflow/pkg/triggers/queue"
	"github.com/kazihq/zapflow/pkg/triggers/schedule"
	"github.com/kazihq/zapflow/pkg/workflow"
)

type WorkerManager struct {
	workerID    string
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	registry    *registry.Registry
	logger      *slog.Logger
	options     workflow.ManagerOptions

	manager *workflow.Manager
	sources []triggers.Source
}

func NewWorkerManager(
	workerID string,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	actionRegistry *registry.Registry,
	options workflow.ManagerOptions,
) *WorkerManager {
	return &WorkerManager{
		workerID:    workerID,
		persistence: p,
		eventBus:    eventBus,
		registry:    actionRegistry,
		logger:      logger,
		options:     options,
	}
}

// Run blocks until the context is cancelled, then drains in-flight tasks.
func (w *WorkerManager) Run(ctx context.Context, triggersFile string) error {
	tracerProvider, err := otelhelper.NewTracerProvider(ctx, "zapflow-worker")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := tracerProvider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			w.logger.Error("Failed to shut down tracer provider", "error", err)
		}
	}()

	store := history.NewStore(w.persistence.TaskRepository(), w.logger)
	deliverer := delivery.NewDeliverer(
		w.persistence.EndpointRepository(),
		w.persistence.DeliveryRepository(),
		w.eventBus,
		w.logger,
	)
	repository := workflow.NewRepository(w.persistence.WorkflowRepository())
	executor := workflow.NewExecutor(
		store,
		w.registry,
		deliverer,
		w.persistence.EndpointRepository(),
		w.eventBus,
		w.logger,
	)

	w.manager = workflow.NewManager(w.workerID, repository, executor, store, w.eventBus, w.logger, w.options)
	if err := w.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	if triggersFile != "" {
		if err := w.startTriggerSources(ctx, triggersFile); err != nil {
			return err
		}
	}

	w.logger.InfoContext(ctx, "Worker running", "workers", w.options.Workers)

	<-ctx.Done()

	w.logger.Info("Shutting down worker")

	stopCtx := context.WithoutCancel(ctx)
	for _, source := range w.sources {
		if err := source.Stop(stopCtx); err != nil {
			w.logger.Error("Failed to stop trigger source", "error", err)
		}
	}

	w.manager.Stop()

	return nil
}

type triggerConfig struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// startTriggerSources reads trigger definitions from a JSON file and starts
// each one. Schedule and queue sources are supported.
func (w *WorkerManager) startTriggerSources(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read triggers file: %w", err)
	}

	var configs []triggerConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return fmt.Errorf("failed to parse triggers file: %w", err)
	}

	for _, config := range configs {
		source, err := w.newTriggerSource(config)
		if err != nil {
			return err
		}

		if err := source.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s trigger: %w", config.Type, err)
		}

		w.sources = append(w.sources, source)
	}

	w.logger.InfoContext(ctx, "Trigger sources started", "count", len(w.sources))

	return nil
}

//nolint:ireturn
func (w *WorkerManager) newTriggerSource(config triggerConfig) (triggers.Source, error) {
	switch config.Type {
	case "schedule":
		return schedule.NewTrigger(config.Config, w.eventBus, w.logger)
	case "queue":
		return queue.NewTrigger(config.Config, w.eventBus, w.logger)
	default:
		return nil, fmt.Errorf("unsupported trigger source type: %s", config.Type)
	}
}

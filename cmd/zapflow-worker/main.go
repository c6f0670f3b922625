package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/kazihq/zapflow/pkg/cmd"
	"github.com/kazihq/zapflow/pkg/log"
	"github.com/kazihq/zapflow/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "zapflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflow tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of concurrent task workers",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.DurationFlag{
				Name:    "task-budget",
				Usage:   "Optional wall-clock budget applied to every task (0 disables)",
				Value:   0,
				Sources: cli.EnvVars("TASK_BUDGET"),
			},
			&cli.StringFlag{
				Name:    "triggers-file",
				Usage:   "Path to a JSON file with trigger source definitions",
				Value:   "",
				Sources: cli.EnvVars("TRIGGERS_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Zapflow Worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			worker := NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				logger,
				cmd.NewRegistry(logger),
				workflow.ManagerOptions{
					Workers:    command.Int("workers"),
					TaskBudget: command.Duration("task-budget"),
				},
			)

			if err := worker.Run(runCtx, command.String("triggers-file")); err != nil {
				logger.ErrorContext(ctx, "Worker failed", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

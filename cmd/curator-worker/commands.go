package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/curatorhq/curator/pkg/cmd"
	"github.com/curatorhq/curator/pkg/content"
	"github.com/curatorhq/curator/pkg/eventbus"
	"github.com/curatorhq/curator/pkg/log"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/otelhelper"
	"github.com/curatorhq/curator/pkg/persistence"
	"github.com/curatorhq/curator/pkg/registry"
	"github.com/curatorhq/curator/pkg/runstate"
	"github.com/curatorhq/curator/pkg/workflow"
)

// runtime bundles everything one worker invocation needs.
type runtime struct {
	workerID     string
	logger       *slog.Logger
	persistence  persistence.Persistence
	bus          eventbus.EventBus
	orchestrator *workflow.Orchestrator
}

func buildRuntime(ctx context.Context, command *cli.Command) (*runtime, func(), error) {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("curator-worker").With("worker_id", workerID)

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create persistence: %w", err)
	}

	pages, err := cmd.NewContentRepository(ctx, logger, command.String("content-database-url"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create content repository: %w", err)
	}

	backend, err := cmd.NewStateBackend(ctx, command.String("state-backend-url"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create state backend: %w", err)
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	var tracer trace.Tracer

	if command.Bool("tracing") {
		tracer, err = otelhelper.NewTracer(ctx, "curator-worker")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
		}
	}

	reg := registry.NewRegistry(logger)
	registry.RegisterDefaultSteps(reg, pages, logger)

	checkpointer := runstate.NewCheckpointer(store, command.Duration("snapshot-interval"), logger)
	states := runstate.NewStore(backend, store, checkpointer, logger)

	orchestrator := workflow.NewOrchestrator(store, store, states, reg, bus, tracer, logger, workflow.Config{
		WorkerID:        workerID,
		MaxStepAttempts: int(command.Int("max-step-attempts")),
		StepTimeout:     command.Duration("step-timeout"),
	})

	cleanup := func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}

		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}

	return &runtime{
		workerID:     workerID,
		logger:       logger,
		persistence:  store,
		bus:          bus,
		orchestrator: orchestrator,
	}, cleanup, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Create an execution for a workflow and drive it to completion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "workflow-id",
				Usage:    "Workflow definition to execute",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "account-id",
				Usage:    "Account the execution is scoped to",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "Execution input as a JSON object",
				Value: "{}",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, cleanup, err := buildRuntime(ctx, command)
			if err != nil {
				return err
			}
			defer cleanup()

			var input map[string]any
			if err := json.Unmarshal([]byte(command.String("input")), &input); err != nil {
				return fmt.Errorf("invalid --input: %w", err)
			}

			execution := models.NewExecution(command.String("workflow-id"), command.String("account-id"), input)
			if err := rt.persistence.SaveExecution(ctx, execution); err != nil {
				return fmt.Errorf("failed to create execution: %w", err)
			}

			rt.logger.InfoContext(ctx, "Created execution",
				"execution_id", execution.ID,
				"workflow_id", execution.WorkflowID)

			return rt.orchestrator.Run(ctx, execution.ID)
		},
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume a paused or interrupted execution from its last snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "execution-id",
				Usage:    "Execution to resume",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			rt, cleanup, err := buildRuntime(ctx, command)
			if err != nil {
				return err
			}
			defer cleanup()

			executionID := command.String("execution-id")

			execution, err := rt.persistence.ExecutionByID(ctx, executionID)
			if err != nil {
				return fmt.Errorf("failed to load execution %s: %w", executionID, err)
			}

			if execution.Status == models.ExecutionStatusPaused {
				if err := rt.persistence.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusRunning, ""); err != nil {
					return fmt.Errorf("failed to unpause execution %s: %w", executionID, err)
				}
			}

			return rt.orchestrator.Run(ctx, executionID)
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate a workflow definition file without executing it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "workflow-file",
				Aliases:  []string{"f"},
				Usage:    "Path to a workflow definition JSON file",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("curator-worker")

			data, err := os.ReadFile(command.String("workflow-file"))
			if err != nil {
				return fmt.Errorf("failed to read workflow file: %w", err)
			}

			var wf models.Workflow
			if err := json.Unmarshal(data, &wf); err != nil {
				return fmt.Errorf("workflow file is not valid JSON: %w", err)
			}

			if err := validator.New().Struct(wf); err != nil {
				return fmt.Errorf("workflow definition is invalid: %w", err)
			}

			chain, err := wf.StepChain()
			if err != nil {
				return fmt.Errorf("workflow chain is invalid: %w", err)
			}

			// Instantiating each step validates its config against the
			// factory schema; no external stores are touched.
			reg := registry.NewRegistry(logger)
			registry.RegisterDefaultSteps(reg, content.NewMemoryRepository(), logger)

			for _, step := range chain {
				if _, err := reg.CreateStep(step.Type, step.Config); err != nil {
					return fmt.Errorf("step %s is invalid: %w", step.ID, err)
				}
			}

			logger.InfoContext(ctx, "Workflow is valid",
				"workflow_id", wf.ID,
				"steps", len(chain))

			return nil
		},
	}
}

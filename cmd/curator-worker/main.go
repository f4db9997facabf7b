package main

import (
	"context"
	"os"

	"github.com/curatorhq/curator/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "curator-worker",
		EnableShellCompletion: true,
		Usage:                 "Run content-maintenance workflow executions",
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
				Usage:    "Execution/workflow record store URL (file path or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "content-database-url",
				Usage:   "Content record store URL (memory or postgres://)",
				Value:   "memory",
				Sources: cli.EnvVars("CONTENT_DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "state-backend-url",
				Usage:   "Runtime state backend URL (memory or redis://)",
				Value:   "memory",
				Sources: cli.EnvVars("STATE_BACKEND_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "snapshot-interval",
				Usage:   "Minimum time between soft durable snapshots",
				Value:   0,
				Sources: cli.EnvVars("SNAPSHOT_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "step-timeout",
				Usage:   "Per-step wall-clock timeout (0 disables)",
				Value:   0,
				Sources: cli.EnvVars("STEP_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "max-step-attempts",
				Usage:   "Executions of a step before the run halts (including the first)",
				Value:   0,
				Sources: cli.EnvVars("MAX_STEP_ATTEMPTS"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			resumeCommand(),
			validateCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("curator-worker").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

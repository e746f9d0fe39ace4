package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/ordino-dev/ordino/pkg/cmd"
	"github.com/ordino-dev/ordino/pkg/log"
	"github.com/ordino-dev/ordino/pkg/queue"
	"github.com/ordino-dev/ordino/pkg/runengine"
	"github.com/ordino-dev/ordino/pkg/wal"
)

func main() {
	command := &cli.Command{
		Name:                  "ordino-orchestrator",
		Usage:                 "Advance workflow runs through their DAGs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "orchestrator-id",
				Aliases: []string{"id"},
				Usage:   "Custom orchestrator ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ORCHESTRATOR_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "wal-path",
				Usage:   "Path to the write-ahead log file",
				Value:   "./data/runtime.wal",
				Sources: cli.EnvVars("WAL_PATH"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "Time between orchestrator passes",
				Value:   time.Second,
				Sources: cli.EnvVars("TICK_INTERVAL"),
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

			orchestratorID := command.String("orchestrator-id")
			if orchestratorID == "" {
				orchestratorID = fmt.Sprintf("orchestrator-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("ordino-orchestrator").With("orchestrator_id", orchestratorID)

			logger.InfoContext(ctx, "Initializing Ordino Orchestrator")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "ordino-orchestrator", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			journal, err := wal.New(command.String("wal-path"))
			if err != nil {
				return fmt.Errorf("failed to open wal: %w", err)
			}

			workQueue := queue.NewQueue(logger, persistence, eventBus)
			engine := runengine.NewEngine(logger, persistence, workQueue, journal, eventBus, runengine.ThresholdEvaluator{})

			daemon := NewDaemon(logger, engine, persistence, journal, command.Duration("tick-interval"))

			return daemon.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

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
	"github.com/ordino-dev/ordino/pkg/schedule"
	"github.com/ordino-dev/ordino/pkg/scheduler"
	"github.com/ordino-dev/ordino/pkg/wal"
)

func main() {
	command := &cli.Command{
		Name:                  "ordino-scheduler",
		Usage:                 "Evaluate schedule policies and enqueue due runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
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
				Usage:   "Time between scheduler passes",
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

			schedulerID := command.String("scheduler-id")
			if schedulerID == "" {
				schedulerID = fmt.Sprintf("scheduler-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("ordino-scheduler").With("scheduler_id", schedulerID)

			logger.InfoContext(ctx, "Initializing Ordino Scheduler")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "ordino-scheduler", logger)
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

			sched := scheduler.NewScheduler(logger, schedule.NewEngine(), persistence, journal, eventBus)

			daemon := NewDaemon(logger, sched, persistence, journal, command.Duration("tick-interval"))

			return daemon.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/ordino-dev/ordino/pkg/cmd"
	"github.com/ordino-dev/ordino/pkg/lease"
	"github.com/ordino-dev/ordino/pkg/log"
	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/queue"
)

func main() {
	command := &cli.Command{
		Name:                  "ordino-worker",
		Usage:                 "Claim and execute work items",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "agent-id",
				Aliases: []string{"id"},
				Usage:   "Custom agent ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("AGENT_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the idempotency store (file store if empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "idempotency-dir",
				Usage:   "Directory for the file idempotency store",
				Value:   "./data/idempotency",
				Sources: cli.EnvVars("IDEMPOTENCY_DIR"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.IntFlag{
				Name:    "max-priority",
				Usage:   "Highest priority this agent claims",
				Value:   100,
				Sources: cli.EnvVars("MAX_PRIORITY"),
			},
			&cli.IntFlag{
				Name:    "lease-ttl",
				Usage:   "Work item lease duration in seconds",
				Value:   60,
				Sources: cli.EnvVars("LEASE_TTL_SEC"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Time between claim attempts when idle",
				Value:   time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
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

			agentID := command.String("agent-id")
			if agentID == "" {
				agentID = fmt.Sprintf("agent-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("ordino-worker").With("agent_id", agentID)

			logger.InfoContext(ctx, "Initializing Ordino Worker")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "ordino-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			idempotency, err := newIdempotencyStore(ctx, command)
			if err != nil {
				return err
			}

			workQueue := queue.NewQueue(logger, persistence, eventBus)

			consumer := queue.NewConsumer(logger, workQueue, persistence, idempotency, newEchoExecutor(logger), queue.ConsumerConfig{
				AgentID:     agentID,
				MaxPriority: command.Int("max-priority"),
				LeaseTTLSec: int64(command.Int("lease-ttl")),
				PollEvery:   command.Duration("poll-interval"),
			})

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return consumer.Run(runCtx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func newIdempotencyStore(ctx context.Context, command *cli.Command) (lease.IdempotencyStore, error) {
	redisURL := command.String("redis-url")
	if redisURL == "" {
		return lease.NewFileIdempotencyStore(command.String("idempotency-dir")), nil
	}

	client, err := lease.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return lease.NewRedisIdempotencyStore(client, "ordino"), nil
}

// newEchoExecutor is the default opaque executor: it logs the work item and
// echoes its task data back as the result.
func newEchoExecutor(logger *slog.Logger) queue.Executor {
	return queue.ExecutorFunc(func(ctx context.Context, item *models.WorkItem) (map[string]any, error) {
		logger.InfoContext(ctx, "Executing work item",
			"task_id", item.TaskID,
			"task_type", item.Payload["task_type"])

		result := map[string]any{"echo": item.Payload["task_data"]}

		return result, nil
	})
}

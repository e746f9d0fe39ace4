package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordino-dev/ordino/pkg/lease"
	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// Executor runs the business logic of one work item.
type Executor interface {
	Execute(ctx context.Context, item *models.WorkItem) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, item *models.WorkItem) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, item *models.WorkItem) (map[string]any, error) {
	return f(ctx, item)
}

// ConsumerConfig tunes one consumer loop.
type ConsumerConfig struct {
	AgentID     string
	MaxPriority int
	LeaseTTLSec int64
	PollEvery   time.Duration
}

// Consumer claims and executes work items. The idempotency store gates
// execution: an item whose key is already recorded is acknowledged without
// running again, which keeps redelivered and reclaimed items at-most-once.
type Consumer struct {
	queue       *Queue
	work        persistence.WorkItemRepository
	idempotency lease.IdempotencyStore
	executor    Executor
	config      ConsumerConfig
	logger      *slog.Logger
}

// NewConsumer creates a consumer.
func NewConsumer(logger *slog.Logger, q *Queue, work persistence.WorkItemRepository, idempotency lease.IdempotencyStore, executor Executor, config ConsumerConfig) *Consumer {
	if config.MaxPriority <= 0 {
		config.MaxPriority = 100
	}

	if config.LeaseTTLSec <= 0 {
		config.LeaseTTLSec = 60
	}

	if config.PollEvery <= 0 {
		config.PollEvery = time.Second
	}

	return &Consumer{
		queue:       q,
		work:        work,
		idempotency: idempotency,
		executor:    executor,
		config:      config,
		logger:      logger.With("module", "queue", "component", "consumer", "agent_id", config.AgentID),
	}
}

// Run polls for work until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				processed, err := c.ProcessOne(ctx)
				if err != nil {
					c.logger.ErrorContext(ctx, "Failed to process work item", "error", err)

					break
				}

				if !processed {
					break
				}
			}
		}
	}
}

// ProcessOne claims and settles a single work item. Returns false when the
// queue had nothing to claim.
func (c *Consumer) ProcessOne(ctx context.Context) (bool, error) {
	item, err := c.queue.Claim(ctx, c.config.AgentID, c.config.MaxPriority, c.config.LeaseTTLSec)
	if err != nil {
		return false, err
	}

	if item == nil {
		return false, nil
	}

	done, err := c.idempotency.Has(ctx, item.IdempotencyKey)
	if err != nil {
		return true, fmt.Errorf("failed to check idempotency for %s: %w", item.TaskID, err)
	}

	if done {
		// Already executed on a previous delivery; settle without
		// running the side effect again.
		c.logger.InfoContext(ctx, "Skipping already executed work item", "task_id", item.TaskID)

		return true, c.queue.Ack(ctx, item.TaskID, c.config.AgentID)
	}

	if err := c.work.MarkWorkItemRunning(ctx, item.TaskID, c.config.AgentID); err != nil {
		return true, err
	}

	result, err := c.executor.Execute(ctx, item)
	if err != nil {
		c.logger.WarnContext(ctx, "Work item execution failed",
			"task_id", item.TaskID, "error", err)

		return true, c.queue.Nack(ctx, item.TaskID, c.config.AgentID, err.Error())
	}

	record := lease.Record{CreatedAt: models.NowUnix(), Value: result}
	if err := c.idempotency.Put(ctx, item.IdempotencyKey, record); err != nil {
		return true, fmt.Errorf("failed to record idempotency for %s: %w", item.TaskID, err)
	}

	return true, c.queue.Ack(ctx, item.TaskID, c.config.AgentID)
}

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ordino-dev/ordino/pkg/otelhelper"
	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/recovery"
	"github.com/ordino-dev/ordino/pkg/scheduler"
	"github.com/ordino-dev/ordino/pkg/wal"
)

// Daemon runs the scheduler tick loop. It recovers runtime state on start and
// stops on context cancellation or when persistence reports unhealthy.
type Daemon struct {
	logger      *slog.Logger
	scheduler   *scheduler.Scheduler
	persistence persistence.Persistence
	journal     *wal.WAL
	interval    time.Duration
}

func NewDaemon(logger *slog.Logger, sched *scheduler.Scheduler, persist persistence.Persistence, journal *wal.WAL, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = time.Second
	}

	return &Daemon{
		logger:      logger,
		scheduler:   sched,
		persistence: persist,
		journal:     journal,
		interval:    interval,
	}
}

func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := recovery.RecoverRuntime(ctx, d.logger, d.persistence, d.journal); err != nil {
		return err
	}

	tracer, err := otelhelper.NewTracer(ctx, "ordino-scheduler")
	if err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "Starting scheduler loop", "tick_interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		case <-ticker.C:
			if err := d.tick(ctx, tracer); err != nil {
				return err
			}
		}
	}
}

func (d *Daemon) tick(ctx context.Context, tracer trace.Tracer) error {
	tickCtx, span := otelhelper.StartSpan(ctx, tracer, "scheduler.tick")
	defer span.End()

	health, err := d.scheduler.Tick(tickCtx, time.Now().Unix())
	if err != nil {
		otelhelper.SetError(span, err)
		d.logger.ErrorContext(tickCtx, "Scheduler tick failed", "error", err)

		// Tick errors are transient unless persistence itself is down.
		if hcErr := d.persistence.HealthCheck(tickCtx); hcErr != nil {
			return hcErr
		}

		return nil
	}

	span.SetAttributes(
		attribute.Int("ordino.schedules.due_checked", health.DueChecked),
		attribute.Int("ordino.schedules.triggered", health.Triggered),
	)

	d.logger.DebugContext(tickCtx, "Scheduler tick complete",
		"state", health.State,
		"due_checked", health.DueChecked,
		"triggered", health.Triggered)

	return nil
}

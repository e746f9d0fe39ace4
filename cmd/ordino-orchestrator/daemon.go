package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ordino-dev/ordino/pkg/otelhelper"
	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/recovery"
	"github.com/ordino-dev/ordino/pkg/runengine"
	"github.com/ordino-dev/ordino/pkg/wal"
)

// Daemon runs the run engine tick loop. It recovers runtime state on start
// and stops on context cancellation or when persistence reports unhealthy.
type Daemon struct {
	logger      *slog.Logger
	engine      *runengine.Engine
	persistence persistence.Persistence
	journal     *wal.WAL
	interval    time.Duration
}

func NewDaemon(logger *slog.Logger, engine *runengine.Engine, persist persistence.Persistence, journal *wal.WAL, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = time.Second
	}

	return &Daemon{
		logger:      logger,
		engine:      engine,
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

	tracer, err := otelhelper.NewTracer(ctx, "ordino-orchestrator")
	if err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "Starting orchestrator loop", "tick_interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Orchestrator stopped")

			return nil
		case <-ticker.C:
			if err := d.tick(ctx, tracer); err != nil {
				return err
			}
		}
	}
}

func (d *Daemon) tick(ctx context.Context, tracer trace.Tracer) error {
	tickCtx, span := otelhelper.StartSpan(ctx, tracer, "orchestrator.tick")
	defer span.End()

	err := d.engine.Tick(tickCtx, time.Now().Unix())
	if err != nil {
		otelhelper.SetError(span, err)
		d.logger.ErrorContext(tickCtx, "Orchestrator tick failed", "error", err)

		if hcErr := d.persistence.HealthCheck(tickCtx); hcErr != nil {
			return hcErr
		}
	}

	return nil
}

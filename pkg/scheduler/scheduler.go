// Package scheduler materializes due schedules into queued runs. Each tick
// asks the schedule engine which schedules fire, upserts the corresponding
// run, advances the stored next-fire time and records the firing in the WAL.
// Run IDs derive from the schedule and fire time, so a replayed tick lands on
// the same run instead of a duplicate.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ordino-dev/ordino/pkg/eventbus"
	"github.com/ordino-dev/ordino/pkg/events"
	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/schedule"
	"github.com/ordino-dev/ordino/pkg/wal"
)

const defaultMaxDue = 100

// Health reports the outcome of the most recent tick.
type Health struct {
	State      string `json:"state"`
	DueChecked int    `json:"due_checked"`
	Triggered  int    `json:"triggered"`
}

// Scheduler drives schedule evaluation against the structured store.
type Scheduler struct {
	engine      *schedule.Engine
	persistence persistence.Persistence
	wal         *wal.WAL
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	maxDue      int
}

// NewScheduler creates a scheduler. The publisher may be nil to disable
// notifications.
func NewScheduler(logger *slog.Logger, engine *schedule.Engine, persist persistence.Persistence, w *wal.WAL, publisher eventbus.EventPublisher) *Scheduler {
	return &Scheduler{
		engine:      engine,
		persistence: persist,
		wal:         w,
		publisher:   publisher,
		logger:      logger.With("module", "scheduler"),
		maxDue:      defaultMaxDue,
	}
}

// Tick evaluates every due schedule at the given instant. Failures on one
// schedule are logged and do not stop the rest of the batch.
func (s *Scheduler) Tick(ctx context.Context, now int64) (Health, error) {
	due, err := s.persistence.ListDueSchedules(ctx, now, s.maxDue)
	if err != nil {
		return Health{State: "degraded"}, fmt.Errorf("failed to list due schedules: %w", err)
	}

	health := Health{State: "running", DueChecked: len(due)}

	for _, sch := range due {
		triggered, err := s.evaluate(ctx, sch, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to evaluate schedule",
				"schedule_id", sch.ID, "error", err)

			continue
		}

		if triggered {
			health.Triggered++
		}
	}

	return health, nil
}

// evaluate runs one schedule through the engine and applies the decision.
func (s *Scheduler) evaluate(ctx context.Context, sch *models.Schedule, now int64) (bool, error) {
	decision := s.engine.Compute(sch.Policy, now, sch.NextFireAt)

	// A never-seeded schedule whose policy produced a future fire time is
	// only seeded, not fired, even when the engine also reports it due.
	if sch.NextFireAt <= 0 && decision.NextFireAt > 0 {
		if err := s.persistence.SetScheduleNextFireAt(ctx, sch.ID, decision.NextFireAt); err != nil {
			return false, fmt.Errorf("failed to seed schedule: %w", err)
		}

		return false, nil
	}

	if !decision.Due {
		return false, nil
	}

	runID := fmt.Sprintf("run-%s-%d", sch.ID, decision.FireAt)
	traceID := "tr-" + strings.ReplaceAll(uuid.NewString(), "-", "")

	run := &models.Run{
		RunID:          runID,
		TraceID:        traceID,
		WorkflowID:     sch.WorkflowID,
		Status:         models.RunStatusQueued,
		ConfigSnapshot: map[string]any{},
		StartedAt:      now,
	}

	if err := s.persistence.UpsertRun(ctx, run); err != nil {
		return false, fmt.Errorf("failed to upsert run: %w", err)
	}

	trigger := &models.ScheduleTrigger{
		ScheduleID: sch.ID,
		FireAt:     decision.FireAt,
		RunID:      runID,
		Status:     "triggered",
		CreatedAt:  now,
	}
	if err := s.persistence.AddScheduleTrigger(ctx, trigger); err != nil {
		return false, fmt.Errorf("failed to record trigger: %w", err)
	}

	if err := s.persistence.SetScheduleNextFireAt(ctx, sch.ID, decision.NextFireAt); err != nil {
		return false, fmt.Errorf("failed to advance next fire time: %w", err)
	}

	if err := s.wal.Append(wal.RecordScheduleTriggered, map[string]any{
		"schedule_id": sch.ID,
		"run_id":      runID,
		"fire_at":     decision.FireAt,
	}); err != nil {
		return false, fmt.Errorf("failed to append wal record: %w", err)
	}

	s.logger.InfoContext(ctx, "Schedule triggered",
		"schedule_id", sch.ID, "run_id", runID, "fire_at", decision.FireAt)

	s.publish(ctx, sch, runID, decision.FireAt, traceID)

	return true, nil
}

func (s *Scheduler) publish(ctx context.Context, sch *models.Schedule, runID string, fireAt int64, traceID string) {
	if s.publisher == nil {
		return
	}

	event := events.ScheduleTriggered{
		BaseEvent: events.BaseEvent{
			Type:      events.ScheduleTriggeredEvent,
			Timestamp: time.Now().UTC(),
			TraceID:   traceID,
		},
		ScheduleID: sch.ID,
		RunID:      runID,
		FireAt:     fireAt,
	}

	if err := s.publisher.Publish(ctx, sch.ID, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish schedule event",
			"schedule_id", sch.ID, "error", err)
	}
}

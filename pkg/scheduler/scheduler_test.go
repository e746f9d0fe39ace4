package scheduler

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence/file"
	"github.com/ordino-dev/ordino/pkg/schedule"
	"github.com/ordino-dev/ordino/pkg/wal"
)

func newTestScheduler(t *testing.T) (*Scheduler, *file.Persistence, *wal.WAL) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())

	w, err := wal.New(filepath.Join(t.TempDir(), "runtime.wal"))
	require.NoError(t, err)

	s := NewScheduler(slog.Default(), schedule.NewEngineWithSeed(1), persist, w, nil)

	return s, persist, w
}

func TestTickSeedsNewIntervalSchedule(t *testing.T) {
	s, persist, w := newTestScheduler(t)
	ctx := t.Context()

	require.NoError(t, persist.CreateSchedule(ctx, &models.Schedule{
		ID: "s-1", WorkflowID: "wf-1", Enabled: true,
		Policy: models.Policy{Type: models.PolicyTypeInterval, EverySec: 300},
	}))

	now := int64(10_000)

	health, err := s.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "running", health.State)
	assert.Equal(t, 1, health.DueChecked)
	assert.Zero(t, health.Triggered, "first tick only seeds the cadence")

	sch, err := persist.ScheduleByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, now+300, sch.NextFireAt)

	records, err := w.Records()
	require.NoError(t, err)
	assert.Empty(t, records, "seeding fires nothing")
}

func TestTickSeedsUnseededWindowScheduleInsideWindow(t *testing.T) {
	s, persist, w := newTestScheduler(t)
	ctx := t.Context()

	require.NoError(t, persist.CreateSchedule(ctx, &models.Schedule{
		ID: "s-w", WorkflowID: "wf-1", Enabled: true,
		Policy: models.Policy{
			Type: models.PolicyTypeWindow, Start: "09:00", End: "17:00", IntervalSec: 600,
		},
	}))

	// First sight lands inside the window; the schedule must still only seed.
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC).Unix()

	health, err := s.Tick(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, health.Triggered, "first sight inside the window seeds, not fires")

	sch, err := persist.ScheduleByID(ctx, "s-w")
	require.NoError(t, err)
	assert.Equal(t, now+600, sch.NextFireAt)

	runs, _, err := persist.ListRuns(ctx, "wf-1", 10, "")
	require.NoError(t, err)
	assert.Empty(t, runs)

	records, err := w.Records()
	require.NoError(t, err)
	assert.Empty(t, records)

	// The seeded cadence fires on the next due tick.
	health, err = s.Tick(ctx, now+600)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Triggered)
}

func TestTickTriggersDueSchedule(t *testing.T) {
	s, persist, w := newTestScheduler(t)
	ctx := t.Context()

	fireAt := int64(9_500)
	require.NoError(t, persist.CreateSchedule(ctx, &models.Schedule{
		ID: "s-1", WorkflowID: "wf-1", Enabled: true, NextFireAt: fireAt,
		Policy: models.Policy{Type: models.PolicyTypeInterval, EverySec: 300},
	}))

	now := int64(10_000)

	health, err := s.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Triggered)

	runID := fmt.Sprintf("run-s-1-%d", fireAt)

	run, err := persist.RunByID(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, "wf-1", run.WorkflowID)
	assert.Equal(t, now, run.StartedAt)
	assert.NotEmpty(t, run.TraceID)

	sch, err := persist.ScheduleByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, now+300, sch.NextFireAt)

	triggers, err := persist.ListScheduleTriggers(ctx, "s-1", 10)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, runID, triggers[0].RunID)
	assert.Equal(t, "triggered", triggers[0].Status)

	records, err := w.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, wal.RecordScheduleTriggered, records[0].Type)
	assert.Equal(t, runID, records[0].Data["run_id"])
}

func TestTickIsIdempotentPerFiring(t *testing.T) {
	s, persist, _ := newTestScheduler(t)
	ctx := t.Context()

	fireAt := int64(9_500)
	require.NoError(t, persist.CreateSchedule(ctx, &models.Schedule{
		ID: "s-1", WorkflowID: "wf-1", Enabled: true, NextFireAt: fireAt,
		Policy: models.Policy{Type: models.PolicyTypeInterval, EverySec: 300},
	}))

	_, err := s.Tick(ctx, 10_000)
	require.NoError(t, err)

	// Rewind the stored next-fire time to replay the same firing.
	require.NoError(t, persist.SetScheduleNextFireAt(ctx, "s-1", fireAt))

	_, err = s.Tick(ctx, 10_000)
	require.NoError(t, err)

	runs, _, err := persist.ListRuns(ctx, "wf-1", 10, "")
	require.NoError(t, err)
	assert.Len(t, runs, 1, "the same firing lands on the same run")
}

func TestTickSkipsDisabledAndFutureSchedules(t *testing.T) {
	s, persist, _ := newTestScheduler(t)
	ctx := t.Context()

	require.NoError(t, persist.CreateSchedule(ctx, &models.Schedule{
		ID: "s-disabled", WorkflowID: "wf-1", Enabled: false, NextFireAt: 100,
		Policy: models.Policy{Type: models.PolicyTypeInterval, EverySec: 300},
	}))
	require.NoError(t, persist.CreateSchedule(ctx, &models.Schedule{
		ID: "s-future", WorkflowID: "wf-1", Enabled: true, NextFireAt: 99_999,
		Policy: models.Policy{Type: models.PolicyTypeInterval, EverySec: 300},
	}))

	health, err := s.Tick(ctx, 10_000)
	require.NoError(t, err)
	assert.Zero(t, health.Triggered)
	assert.Zero(t, health.DueChecked)
}

func TestTickIsolatesBrokenPolicies(t *testing.T) {
	s, persist, _ := newTestScheduler(t)
	ctx := t.Context()

	require.NoError(t, persist.CreateSchedule(ctx, &models.Schedule{
		ID: "s-broken", WorkflowID: "wf-1", Enabled: true, NextFireAt: 0,
		Policy: models.Policy{Type: "lunar"},
	}))
	require.NoError(t, persist.CreateSchedule(ctx, &models.Schedule{
		ID: "s-ok", WorkflowID: "wf-1", Enabled: true, NextFireAt: 9_500,
		Policy: models.Policy{Type: models.PolicyTypeInterval, EverySec: 300},
	}))

	health, err := s.Tick(ctx, 10_000)
	require.NoError(t, err)
	assert.Equal(t, 2, health.DueChecked)
	assert.Equal(t, 1, health.Triggered, "a broken policy never wedges the batch")
}

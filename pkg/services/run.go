package services

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
)

// Run triggers and inspects workflow runs. Scheduled runs are created by the
// scheduler; this service covers the manual paths exposed over the API.
type Run struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewRun creates a new run service. The publisher may be nil; events are
// best-effort notification only.
func NewRun(logger *slog.Logger, persistence persistence.Persistence, publisher eventbus.EventPublisher) *Run {
	return &Run{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "run_service"),
	}
}

// RunDetail pairs a run with its per-node execution records.
type RunDetail struct {
	Run      *models.Run       `json:"run"`
	NodeRuns []*models.NodeRun `json:"node_runs"`
}

// Trigger creates a queued run for the latest version of a workflow. The run
// picks up on the orchestrator's next pass.
func (r *Run) Trigger(ctx context.Context, workflowID string, configSnapshot map[string]any) (*models.Run, error) {
	workflow, err := r.persistence.LatestWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if configSnapshot == nil {
		configSnapshot = map[string]any{}
	}

	run := &models.Run{
		RunID:          "run-manual-" + uuid.New().String(),
		TraceID:        "tr-" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		WorkflowID:     workflow.WorkflowID,
		Status:         models.RunStatusQueued,
		ConfigSnapshot: configSnapshot,
		StartedAt:      time.Now().Unix(),
	}

	err = r.persistence.UpsertRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	r.publish(ctx, run.RunID, events.RunQueued{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.RunQueuedEvent,
			Timestamp: time.Now().UTC(),
			TraceID:   run.TraceID,
		},
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
	})

	return run, nil
}

// FetchByID retrieves a run together with its node records.
func (r *Run) FetchByID(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := r.persistence.RunByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	nodeRuns, err := r.persistence.ListNodeRuns(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node runs: %w", err)
	}

	return &RunDetail{Run: run, NodeRuns: nodeRuns}, nil
}

// List returns runs with cursor pagination, optionally filtered by workflow.
func (r *Run) List(ctx context.Context, workflowID string, limit int, cursor string) ([]*models.Run, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	return r.persistence.ListRuns(ctx, workflowID, limit, cursor)
}

// Cancel marks a run canceled. The cancel is cooperative: work items already
// claimed by agents run to completion, but the run engine stops advancing the
// DAG. A terminal run reports ErrRunNotCancelable.
func (r *Run) Cancel(ctx context.Context, runID string) (*models.Run, error) {
	run, err := r.persistence.RunByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status.IsTerminal() {
		return nil, ErrRunNotCancelable
	}

	now := time.Now().Unix()

	err = r.persistence.UpdateRunStatus(ctx, runID, models.RunStatusCanceled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel run: %w", err)
	}

	run.Status = models.RunStatusCanceled
	run.EndedAt = now

	r.publish(ctx, runID, events.RunCanceled{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.RunCanceledEvent,
			Timestamp: time.Now().UTC(),
			TraceID:   run.TraceID,
		},
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
	})

	return run, nil
}

func (r *Run) publish(ctx context.Context, key string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	err := r.publisher.Publish(ctx, key, event)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event", "key", key, "error", err)
	}
}

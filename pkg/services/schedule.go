package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// Schedule manages recurring-run policies. Policy validation happens at the
// write path so a broken policy never reaches the schedule engine.
type Schedule struct {
	persistence persistence.Persistence
}

// NewSchedule creates a new schedule service.
func NewSchedule(persistence persistence.Persistence) *Schedule {
	return &Schedule{
		persistence: persistence,
	}
}

// Create stores a new schedule. The next fire time is left unseeded; the
// scheduler seeds it on its first pass.
func (s *Schedule) Create(ctx context.Context, schedule *models.Schedule) (*models.Schedule, error) {
	if schedule == nil {
		return nil, ErrScheduleNil
	}

	if err := schedule.Policy.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.persistence.LatestWorkflow(ctx, schedule.WorkflowID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if schedule.ID == "" {
		schedule.ID = "sch-" + uuid.New().String()
	}

	schedule.NextFireAt = 0
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	err := s.persistence.CreateSchedule(ctx, schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	return schedule, nil
}

// UpdateScheduleRequest carries the mutable fields of a schedule. Nil fields
// are left unchanged.
type UpdateScheduleRequest struct {
	Enabled *bool          `json:"enabled,omitempty"`
	Policy  *models.Policy `json:"policy,omitempty"`
}

// Update applies a partial update. A policy change resets the seeded fire
// time so the new policy takes effect on the next scheduler pass.
func (s *Schedule) Update(ctx context.Context, scheduleID string, req UpdateScheduleRequest) (*models.Schedule, error) {
	schedule, err := s.persistence.ScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	if req.Policy != nil {
		if err := req.Policy.Validate(); err != nil {
			return nil, err
		}

		schedule.Policy = *req.Policy
		schedule.NextFireAt = 0
	}

	if req.Enabled != nil {
		schedule.Enabled = *req.Enabled
	}

	schedule.UpdatedAt = time.Now().UTC()

	err = s.persistence.UpdateSchedule(ctx, schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	return schedule, nil
}

// FetchByID retrieves a schedule by its ID.
func (s *Schedule) FetchByID(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	return s.persistence.ScheduleByID(ctx, scheduleID)
}

// List returns schedules, optionally filtered by workflow, with cursor
// pagination.
func (s *Schedule) List(ctx context.Context, workflowID string, limit int, cursor string) ([]*models.Schedule, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	return s.persistence.ListSchedules(ctx, workflowID, limit, cursor)
}

// TriggerHistory returns the most recent firings of a schedule.
func (s *Schedule) TriggerHistory(ctx context.Context, scheduleID string, limit int) ([]*models.ScheduleTrigger, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	if _, err := s.persistence.ScheduleByID(ctx, scheduleID); err != nil {
		return nil, err
	}

	return s.persistence.ListScheduleTriggers(ctx, scheduleID, limit)
}

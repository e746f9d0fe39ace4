package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

const scheduleColumns = "id, workflow_id, version, enabled, policy, next_fire_at, created_at, updated_at"

func scanSchedule(row interface{ Scan(...any) error }) (*models.Schedule, error) {
	var (
		schedule models.Schedule
		policy   []byte
	)

	err := row.Scan(&schedule.ID, &schedule.WorkflowID, &schedule.Version, &schedule.Enabled,
		&policy, &schedule.NextFireAt, &schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(policy, &schedule.Policy); err != nil {
		return nil, err
	}

	return &schedule, nil
}

// CreateSchedule inserts a new schedule row.
func (p *Persistence) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	policy, err := marshalJSON(schedule.Policy)
	if err != nil {
		return persistence.NewStoreError("create", "schedule", schedule.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO schedules (id, workflow_id, version, enabled, policy, next_fire_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		schedule.ID, schedule.WorkflowID, schedule.Version, schedule.Enabled,
		policy, schedule.NextFireAt, schedule.CreatedAt, schedule.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("create", "schedule", schedule.ID, err)
	}

	return nil
}

// UpdateSchedule overwrites an existing schedule row.
func (p *Persistence) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	policy, err := marshalJSON(schedule.Policy)
	if err != nil {
		return persistence.NewStoreError("update", "schedule", schedule.ID, err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE schedules
		SET workflow_id = $2, version = $3, enabled = $4, policy = $5, next_fire_at = $6, updated_at = $7
		WHERE id = $1`,
		schedule.ID, schedule.WorkflowID, schedule.Version, schedule.Enabled,
		policy, schedule.NextFireAt, schedule.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("update", "schedule", schedule.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("update", "schedule", schedule.ID, err)
	}

	if rows == 0 {
		return persistence.NewStoreError("update", "schedule", schedule.ID, persistence.ErrScheduleNotFound)
	}

	return nil
}

// ScheduleByID returns a schedule or ErrScheduleNotFound.
func (p *Persistence) ScheduleByID(ctx context.Context, id string) (*models.Schedule, error) {
	row := p.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM schedules WHERE id = $1", scheduleColumns), id)

	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewStoreError("get", "schedule", id, persistence.ErrScheduleNotFound)
	}

	if err != nil {
		return nil, persistence.NewStoreError("get", "schedule", id, err)
	}

	return schedule, nil
}

// ListSchedules returns schedules ordered by ID with cursor pagination.
func (p *Persistence) ListSchedules(ctx context.Context, workflowID string, limit int, cursor string) ([]*models.Schedule, string, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM schedules
		WHERE ($1 = '' OR workflow_id = $1) AND ($2 = '' OR id > $2)
		ORDER BY id ASC
		LIMIT $3`, scheduleColumns),
		workflowID, cursor, limit+1)
	if err != nil {
		return nil, "", persistence.NewStoreError("list", "schedule", "", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, "", persistence.NewStoreError("list", "schedule", "", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, "", persistence.NewStoreError("list", "schedule", "", err)
	}

	nextCursor := ""

	if len(schedules) > limit {
		schedules = schedules[:limit]
		nextCursor = schedules[len(schedules)-1].ID
	}

	return schedules, nextCursor, nil
}

// ListDueSchedules returns enabled schedules due at or before now.
func (p *Persistence) ListDueSchedules(ctx context.Context, now int64, limit int) ([]*models.Schedule, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM schedules
		WHERE enabled AND (next_fire_at <= 0 OR next_fire_at <= $1)
		ORDER BY next_fire_at ASC
		LIMIT $2`, scheduleColumns),
		now, limit)
	if err != nil {
		return nil, persistence.NewStoreError("list_due", "schedule", "", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, persistence.NewStoreError("list_due", "schedule", "", err)
		}

		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list_due", "schedule", "", err)
	}

	return schedules, nil
}

// SetScheduleNextFireAt updates only the next fire time of a schedule.
func (p *Persistence) SetScheduleNextFireAt(ctx context.Context, id string, nextFireAt int64) error {
	result, err := p.db.ExecContext(ctx,
		"UPDATE schedules SET next_fire_at = $2, updated_at = NOW() WHERE id = $1", id, nextFireAt)
	if err != nil {
		return persistence.NewStoreError("set_next_fire_at", "schedule", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("set_next_fire_at", "schedule", id, err)
	}

	if rows == 0 {
		return persistence.NewStoreError("set_next_fire_at", "schedule", id, persistence.ErrScheduleNotFound)
	}

	return nil
}

// AddScheduleTrigger records a trigger audit row. Replays of the same firing
// upsert the same (schedule_id, fire_at) row.
func (p *Persistence) AddScheduleTrigger(ctx context.Context, trigger *models.ScheduleTrigger) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO schedule_triggers (schedule_id, fire_at, run_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (schedule_id, fire_at) DO UPDATE SET run_id = $3, status = $4`,
		trigger.ScheduleID, trigger.FireAt, trigger.RunID, trigger.Status, trigger.CreatedAt)
	if err != nil {
		return persistence.NewStoreError("add_trigger", "schedule", trigger.ScheduleID, err)
	}

	return nil
}

// ListScheduleTriggers returns trigger rows for one schedule, newest first.
func (p *Persistence) ListScheduleTriggers(ctx context.Context, scheduleID string, limit int) ([]*models.ScheduleTrigger, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT schedule_id, fire_at, run_id, status, created_at
		FROM schedule_triggers
		WHERE schedule_id = $1
		ORDER BY fire_at DESC
		LIMIT $2`, scheduleID, limit)
	if err != nil {
		return nil, persistence.NewStoreError("list_triggers", "schedule", scheduleID, err)
	}
	defer rows.Close()

	var triggers []*models.ScheduleTrigger

	for rows.Next() {
		var trigger models.ScheduleTrigger

		err := rows.Scan(&trigger.ScheduleID, &trigger.FireAt, &trigger.RunID, &trigger.Status, &trigger.CreatedAt)
		if err != nil {
			return nil, persistence.NewStoreError("list_triggers", "schedule", scheduleID, err)
		}

		triggers = append(triggers, &trigger)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list_triggers", "schedule", scheduleID, err)
	}

	return triggers, nil
}

package file

import (
	"context"
	"fmt"
	"sort"

	"github.com/ordino-dev/ordino/pkg/models"
	"github.com/ordino-dev/ordino/pkg/persistence"
)

// CreateSchedule stores a new schedule record.
func (p *Persistence) CreateSchedule(_ context.Context, schedule *models.Schedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeRecord(dirSchedules, schedule.ID, schedule)
}

// UpdateSchedule overwrites an existing schedule.
func (p *Persistence) UpdateSchedule(_ context.Context, schedule *models.Schedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var existing models.Schedule

	found, err := p.readRecord(dirSchedules, schedule.ID, &existing)
	if err != nil {
		return persistence.NewStoreError("update", "schedule", schedule.ID, err)
	}

	if !found {
		return persistence.NewStoreError("update", "schedule", schedule.ID, persistence.ErrScheduleNotFound)
	}

	return p.writeRecord(dirSchedules, schedule.ID, schedule)
}

// ScheduleByID returns a schedule or ErrScheduleNotFound.
func (p *Persistence) ScheduleByID(_ context.Context, id string) (*models.Schedule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var schedule models.Schedule

	found, err := p.readRecord(dirSchedules, id, &schedule)
	if err != nil {
		return nil, persistence.NewStoreError("get", "schedule", id, err)
	}

	if !found {
		return nil, persistence.NewStoreError("get", "schedule", id, persistence.ErrScheduleNotFound)
	}

	return &schedule, nil
}

// ListSchedules returns schedules ordered by ID, optionally filtered by
// workflow, with cursor pagination on the schedule ID.
func (p *Persistence) ListSchedules(_ context.Context, workflowID string, limit int, cursor string) ([]*models.Schedule, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var schedules []*models.Schedule

	err := eachRecord(p, dirSchedules, func(s *models.Schedule) {
		if workflowID != "" && s.WorkflowID != workflowID {
			return
		}

		if cursor != "" && s.ID <= cursor {
			return
		}

		schedules = append(schedules, s)
	})
	if err != nil {
		return nil, "", persistence.NewStoreError("list", "schedule", "", err)
	}

	sort.Slice(schedules, func(i, j int) bool { return schedules[i].ID < schedules[j].ID })

	nextCursor := ""

	if limit > 0 && len(schedules) > limit {
		schedules = schedules[:limit]
		nextCursor = schedules[len(schedules)-1].ID
	}

	return schedules, nextCursor, nil
}

// ListDueSchedules returns enabled schedules whose next fire time is unset or
// has passed, ordered soonest first.
func (p *Persistence) ListDueSchedules(_ context.Context, now int64, limit int) ([]*models.Schedule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var due []*models.Schedule

	err := eachRecord(p, dirSchedules, func(s *models.Schedule) {
		if !s.Enabled {
			return
		}

		if s.NextFireAt > 0 && s.NextFireAt > now {
			return
		}

		due = append(due, s)
	})
	if err != nil {
		return nil, persistence.NewStoreError("list_due", "schedule", "", err)
	}

	sort.Slice(due, func(i, j int) bool { return due[i].NextFireAt < due[j].NextFireAt })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// SetScheduleNextFireAt updates only the next fire time of a schedule.
func (p *Persistence) SetScheduleNextFireAt(_ context.Context, id string, nextFireAt int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var schedule models.Schedule

	found, err := p.readRecord(dirSchedules, id, &schedule)
	if err != nil {
		return persistence.NewStoreError("set_next_fire_at", "schedule", id, err)
	}

	if !found {
		return persistence.NewStoreError("set_next_fire_at", "schedule", id, persistence.ErrScheduleNotFound)
	}

	schedule.NextFireAt = nextFireAt

	return p.writeRecord(dirSchedules, id, &schedule)
}

// AddScheduleTrigger records a trigger audit row for a schedule firing.
func (p *Persistence) AddScheduleTrigger(_ context.Context, trigger *models.ScheduleTrigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fmt.Sprintf("%s-%d", trigger.ScheduleID, trigger.FireAt)

	return p.writeRecord(dirTriggers, key, trigger)
}

// ListScheduleTriggers returns trigger rows for one schedule, newest first.
func (p *Persistence) ListScheduleTriggers(_ context.Context, scheduleID string, limit int) ([]*models.ScheduleTrigger, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var triggers []*models.ScheduleTrigger

	err := eachRecord(p, dirTriggers, func(t *models.ScheduleTrigger) {
		if t.ScheduleID != scheduleID {
			return
		}

		triggers = append(triggers, t)
	})
	if err != nil {
		return nil, persistence.NewStoreError("list_triggers", "schedule", scheduleID, err)
	}

	sort.Slice(triggers, func(i, j int) bool { return triggers[i].FireAt > triggers[j].FireAt })

	if limit > 0 && len(triggers) > limit {
		triggers = triggers[:limit]
	}

	return triggers, nil
}

// Package models defines the core domain records for the durable task-orchestration runtime.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// PolicyType discriminates the schedule policy variants.
type PolicyType string

const (
	PolicyTypeAt       PolicyType = "at"       // Fires once at a fixed timestamp
	PolicyTypeInterval PolicyType = "interval" // Fires every N seconds plus jitter
	PolicyTypeWindow   PolicyType = "window"   // Fires every N seconds inside a daily clock window
	PolicyTypeCron     PolicyType = "cron"     // Fires per a standard 5-field cron expression
)

// Policy is the tagged union describing when a schedule fires.
// Type selects the variant; only the fields of the selected variant are read.
type Policy struct {
	Type PolicyType `json:"type" validate:"required"`

	// at
	At string `json:"at,omitempty"`

	// interval
	EverySec  int64 `json:"every_sec,omitempty"`
	JitterSec int64 `json:"jitter_sec,omitempty"`

	// window
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	IntervalSec int64  `json:"interval_sec,omitempty"`

	// cron
	Expression string `json:"expression,omitempty"`
}

// Validation reasons surfaced to the schedule write path.
var (
	ErrInvalidPolicyType     = errors.New("invalid_policy_type")
	ErrMissingAt             = errors.New("missing_at")
	ErrEverySecNotPositive   = errors.New("every_sec_must_be_positive")
	ErrMissingWindowBounds   = errors.New("missing_window_bounds")
	ErrIntervalNotPositive   = errors.New("interval_sec_must_be_positive")
	ErrWindowEndBeforeStart  = errors.New("window_end_must_be_after_start")
	ErrInvalidCronExpression = errors.New("invalid_cron_expression")
)

// Validate rejects policies that would be a no-op for the schedule engine.
// Window bounds given as HH:MM are checked for ordering here so a misconfigured
// window never reaches the engine silently.
func (p Policy) Validate() error {
	switch p.Type {
	case PolicyTypeAt:
		if strings.TrimSpace(p.At) == "" {
			return ErrMissingAt
		}
	case PolicyTypeInterval:
		if p.EverySec <= 0 {
			return ErrEverySecNotPositive
		}
	case PolicyTypeWindow:
		if strings.TrimSpace(p.Start) == "" || strings.TrimSpace(p.End) == "" {
			return ErrMissingWindowBounds
		}

		if p.IntervalSec <= 0 {
			return ErrIntervalNotPositive
		}

		if start, end, ok := clockBounds(p.Start, p.End); ok && end <= start {
			return ErrWindowEndBeforeStart
		}
	case PolicyTypeCron:
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(p.Expression); err != nil {
			return ErrInvalidCronExpression
		}
	default:
		return ErrInvalidPolicyType
	}

	return nil
}

// clockBounds parses both bounds as HH:MM and returns them as minutes of day.
// Full-timestamp bounds are left to the engine's parser and report ok=false.
func clockBounds(start, end string) (int, int, bool) {
	s, okS := parseClock(start)
	e, okE := parseClock(end)

	return s, e, okS && okE
}

func parseClock(v string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}

	return t.Hour()*60 + t.Minute(), true
}

// Schedule is a recurring-run policy attached to a workflow version.
// NextFireAt is unix seconds; zero means the schedule has never been seeded
// (or, for "at" policies, that it is exhausted).
type Schedule struct {
	ID         string     `json:"id"          validate:"required"`
	WorkflowID string     `json:"workflow_id" validate:"required"`
	Version    int        `json:"version"` // pinned workflow version; 0 tracks latest
	Enabled    bool       `json:"enabled"`
	Policy     Policy     `json:"policy"`
	NextFireAt int64      `json:"next_fire_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ScheduleTrigger is the audit row recorded for every schedule firing.
type ScheduleTrigger struct {
	ScheduleID string `json:"schedule_id"`
	FireAt     int64  `json:"fire_at"`
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"`
}

// Package schedule implements the pure fire-decision engine. Given a policy,
// the current time and the stored next-fire time, the engine decides whether
// a schedule fires now and when it should be checked next. The engine never
// touches storage and never errors: malformed policies simply never fire,
// which keeps one bad schedule from wedging a scheduler tick.
package schedule

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ordino-dev/ordino/pkg/models"
)

const (
	windowFallback = int64(3600)  // applied when a window's end is not after its start
	daySeconds     = int64(86400) // window rollover to the next day's start
)

// Decision is the outcome of evaluating one policy at one instant.
// FireAt is set only when Due; NextFireAt is zero once a one-shot policy has
// fired its last time.
type Decision struct {
	FireAt     int64
	NextFireAt int64
	Due        bool
}

// Engine computes fire decisions. Safe for concurrent use only when each
// caller holds its own Engine; the jitter source is not synchronized.
type Engine struct {
	rng        *rand.Rand
	cronParser cron.Parser
}

// NewEngine creates an engine with a time-seeded jitter source.
func NewEngine() *Engine {
	return NewEngineWithSeed(time.Now().UnixNano())
}

// NewEngineWithSeed creates an engine with a deterministic jitter source,
// used by tests and replay-sensitive callers.
func NewEngineWithSeed(seed int64) *Engine {
	return &Engine{
		rng:        rand.New(rand.NewSource(seed)),
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Compute evaluates a policy. currentNextFireAt is the stored next-fire time;
// zero or negative means the schedule has never been seeded.
func (e *Engine) Compute(policy models.Policy, now, currentNextFireAt int64) Decision {
	switch policy.Type {
	case models.PolicyTypeAt:
		return e.computeAt(policy, now, currentNextFireAt)
	case models.PolicyTypeInterval:
		return e.computeInterval(policy, now, currentNextFireAt)
	case models.PolicyTypeWindow:
		return e.computeWindow(policy, now, currentNextFireAt)
	case models.PolicyTypeCron:
		return e.computeCron(policy, now, currentNextFireAt)
	default:
		return Decision{}
	}
}

// computeAt handles one-shot schedules. After the single firing the next-fire
// time goes to zero and the schedule never fires again.
func (e *Engine) computeAt(policy models.Policy, now, current int64) Decision {
	at, ok := parseTimestamp(policy.At)
	if !ok {
		return Decision{}
	}

	if current <= 0 {
		current = at
	}

	due := current > 0 && current <= now
	if !due {
		return Decision{NextFireAt: current}
	}

	return Decision{FireAt: current, Due: true}
}

func (e *Engine) computeInterval(policy models.Policy, now, current int64) Decision {
	if policy.EverySec <= 0 {
		return Decision{}
	}

	if current <= 0 {
		// First evaluation seeds the cadence one period out; the
		// schedule does not fire on its very first tick.
		current = now + policy.EverySec + e.jitter(policy.JitterSec)
	}

	if current > now {
		return Decision{NextFireAt: current}
	}

	return Decision{
		FireAt:     current,
		NextFireAt: now + policy.EverySec + e.jitter(policy.JitterSec),
		Due:        true,
	}
}

func (e *Engine) computeWindow(policy models.Policy, now, current int64) Decision {
	if policy.IntervalSec <= 0 {
		return Decision{}
	}

	start, ok := parseWindowBound(policy.Start, now)
	if !ok {
		return Decision{}
	}

	end, ok := parseWindowBound(policy.End, now)
	if !ok {
		return Decision{}
	}

	if end <= start {
		end = start + windowFallback
	}

	if current <= 0 {
		current = start
		if now > current {
			current = now
		}
	}

	due := current <= now && now <= end
	if !due {
		if now > end {
			// Past today's window; roll to tomorrow's start.
			return Decision{NextFireAt: start + daySeconds}
		}

		return Decision{NextFireAt: current}
	}

	next := now + policy.IntervalSec
	if next > end {
		next = start + daySeconds
	}

	return Decision{FireAt: current, NextFireAt: next, Due: true}
}

func (e *Engine) computeCron(policy models.Policy, now, current int64) Decision {
	spec, err := e.cronParser.Parse(policy.Expression)
	if err != nil {
		return Decision{}
	}

	if current <= 0 {
		// Seed at the next cron occurrence; no firing on the first tick.
		return Decision{NextFireAt: spec.Next(time.Unix(now, 0).UTC()).Unix()}
	}

	if current > now {
		return Decision{NextFireAt: current}
	}

	return Decision{
		FireAt:     current,
		NextFireAt: spec.Next(time.Unix(now, 0).UTC()).Unix(),
		Due:        true,
	}
}

func (e *Engine) jitter(maxSec int64) int64 {
	if maxSec <= 0 {
		return 0
	}

	return e.rng.Int63n(maxSec + 1)
}

// parseTimestamp accepts RFC 3339 timestamps; a timestamp without a zone is
// taken as UTC.
func parseTimestamp(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Unix(), true
	}

	if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return t.Unix(), true
	}

	return 0, false
}

// parseWindowBound accepts either a full timestamp or a clock time "HH:MM"
// applied to now's UTC date.
func parseWindowBound(value string, now int64) (int64, bool) {
	if ts, ok := parseTimestamp(value); ok {
		return ts, true
	}

	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, false
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}

	day := time.Unix(now, 0).UTC()

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC).Unix(), true
}

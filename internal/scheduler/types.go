package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// ScheduleType represents the type of schedule.
type ScheduleType string

const (
	// ScheduleTypeScheduled fires once at an absolute time.
	ScheduleTypeScheduled ScheduleType = "scheduled"
	// ScheduleTypeDelayed fires once after a relative delay.
	ScheduleTypeDelayed ScheduleType = "delayed"
	// ScheduleTypeInterval fires every N seconds until cancelled.
	ScheduleTypeInterval ScheduleType = "interval"
	// ScheduleTypeCron fires per a cron expression until cancelled.
	ScheduleTypeCron ScheduleType = "cron"
)

// OneShot reports whether the type fires once and is then deleted.
func (t ScheduleType) OneShot() bool {
	return t == ScheduleTypeScheduled || t == ScheduleTypeDelayed
}

// Schedule is a persisted scheduled callback.
type Schedule struct {
	ID                 string          // Unique schedule ID
	Callback           string          // Registered callback name
	Type               ScheduleType    // scheduled, delayed, interval, cron
	Payload            json.RawMessage // Static payload passed to the callback
	DueAt              *time.Time      // Next firing time
	IntervalSeconds    int64           // Interval period (interval type)
	CronExpr           string          // Cron expression (cron type)
	Timezone           string          // Timezone for cron evaluation
	Running            bool            // An execution is in flight
	ExecutionStartedAt *time.Time      // When the in-flight execution began; nil on legacy rows
	AttemptCount       int             // Failed attempts since the last success
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// When selects the firing rule for a new schedule. Exactly one field is set.
type When struct {
	Delay time.Duration // fire once after this delay
	At    time.Time     // fire once at this time
	Cron  string        // fire per this cron expression
}

// In schedules a one-shot firing after d.
func In(d time.Duration) When { return When{Delay: d} }

// At schedules a one-shot firing at t.
func At(t time.Time) When { return When{At: t} }

// Cron schedules recurring firings per a cron expression.
func Cron(expr string) When { return When{Cron: expr} }

// Callback is a named scheduled callback. Errors (and panics, which are
// recovered) count against the schedule's retry bound.
type Callback func(ctx context.Context, payload json.RawMessage, schedule *Schedule) error

// Filter narrows GetSchedules results. Zero-valued fields match everything.
type Filter struct {
	IDs    []string
	Type   ScheduleType
	Before time.Time // due strictly before
	After  time.Time // due at or after
}

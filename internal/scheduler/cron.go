package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser wraps robfig/cron for parsing cron expressions.
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a new cron parser with standard options.
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// Parse parses a cron expression and returns a schedule.
func (p *CronParser) Parse(expression string) (cron.Schedule, error) {
	schedule, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	return schedule, nil
}

// NextRun calculates the next run time for a cron expression in a specific timezone.
func (p *CronParser) NextRun(expression, timezone string, after time.Time) (time.Time, error) {
	schedule, err := p.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone: %w", err)
	}

	next := schedule.Next(after.In(loc))
	return next, nil
}

// nextDue computes the firing time following `after` for a schedule, per its type.
func nextDue(schedule *Schedule, parser *CronParser, after time.Time) (time.Time, error) {
	switch schedule.Type {
	case ScheduleTypeScheduled, ScheduleTypeDelayed:
		if schedule.DueAt == nil {
			return time.Time{}, fmt.Errorf("one-shot schedule %s has no due time", schedule.ID)
		}
		return *schedule.DueAt, nil

	case ScheduleTypeInterval:
		if schedule.IntervalSeconds < 1 {
			return time.Time{}, fmt.Errorf("interval schedule %s has invalid period", schedule.ID)
		}
		return after.Add(time.Duration(schedule.IntervalSeconds) * time.Second), nil

	case ScheduleTypeCron:
		return parser.NextRun(schedule.CronExpr, schedule.Timezone, after)

	default:
		return time.Time{}, fmt.Errorf("unknown schedule type: %s", schedule.Type)
	}
}

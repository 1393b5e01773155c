// Package trigger evaluates workload schedules and dispatches scheduled
// executions through a bounded worker pool.
package trigger

import (
	"time"

	"github.com/mantyx/mantyx/errors"
	"github.com/robfig/cron/v3"
)

// ScheduleType distinguishes cron-expression schedules from fixed-interval
// ones.
type ScheduleType string

const (
	TypeCron     ScheduleType = "cron"
	TypeInterval ScheduleType = "interval"
)

// cronParser accepts standard five-field expressions (minute granularity).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule binds a recurrence rule to a workload. A workload may carry any
// number of schedules; each is armed independently by the engine.
type Schedule struct {
	ID          int64
	WorkloadID  int64
	Name        string
	Description string

	Type            ScheduleType
	CronExpression  string
	IntervalSeconds int

	// Timezone is recorded per schedule for operator reference; the engine
	// evaluates every schedule in its single configured location.
	Timezone string

	IsEnabled bool

	LastRunAt *time.Time
	NextRunAt *time.Time
	RunCount  int

	// TimeoutSeconds bounds each scheduled execution; zero means no limit.
	TimeoutSeconds int

	// MisfireGraceSeconds is how late a fire may be before it is dropped
	// instead of run. Zero disables the check.
	MisfireGraceSeconds int

	// Coalesce collapses a backlog of missed fires into a single run.
	Coalesce bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the recurrence rule is well formed for its type.
func (s *Schedule) Validate() error {
	if s.WorkloadID == 0 {
		return errors.Wrap(errors.ErrValidation, "schedule requires a workload")
	}
	switch s.Type {
	case TypeCron:
		if s.CronExpression == "" {
			return errors.Wrap(errors.ErrValidation, "cron schedule requires an expression")
		}
		if _, err := cronParser.Parse(s.CronExpression); err != nil {
			return errors.Wrapf(errors.ErrValidation, "invalid cron expression %q: %v", s.CronExpression, err)
		}
	case TypeInterval:
		if s.IntervalSeconds <= 0 {
			return errors.Wrap(errors.ErrValidation, "interval schedule requires a positive interval")
		}
	default:
		return errors.Wrapf(errors.ErrValidation, "unknown schedule type %q", s.Type)
	}
	if s.TimeoutSeconds < 0 {
		return errors.Wrap(errors.ErrValidation, "timeout cannot be negative")
	}
	if s.MisfireGraceSeconds < 0 {
		return errors.Wrap(errors.ErrValidation, "misfire grace cannot be negative")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return errors.Wrapf(errors.ErrValidation, "unknown timezone %q", s.Timezone)
		}
	}
	return nil
}

// nextAfter computes the schedule's next fire time strictly after t, in loc.
func (s *Schedule) nextAfter(t time.Time, loc *time.Location) (time.Time, error) {
	switch s.Type {
	case TypeCron:
		sched, err := cronParser.Parse(s.CronExpression)
		if err != nil {
			return time.Time{}, errors.Wrapf(errors.ErrValidation, "parse cron: %v", err)
		}
		return sched.Next(t.In(loc)), nil
	case TypeInterval:
		return t.Add(time.Duration(s.IntervalSeconds) * time.Second), nil
	default:
		return time.Time{}, errors.Wrapf(errors.ErrValidation, "unknown schedule type %q", s.Type)
	}
}

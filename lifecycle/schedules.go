package lifecycle

import (
	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/trigger"
	"github.com/mantyx/mantyx/workload"
)

// Schedule operations keep the persisted rows and the engine's live trigger
// set in step: a change is not complete until both agree.

// CreateSchedule attaches a schedule to a scheduled workload and arms it
// when both the schedule and its workload are enabled.
func (c *Controller) CreateSchedule(sched *trigger.Schedule) error {
	w, err := c.workloads.GetByID(sched.WorkloadID)
	if err != nil {
		return err
	}
	if w.Kind != workload.KindScheduled {
		return errors.Wrapf(errors.ErrValidation,
			"workload %s is continuous, schedules attach to scheduled workloads", w.Name)
	}
	if w.IsDeleted {
		return errors.Wrapf(errors.ErrValidation, "workload %s is deleted", w.Name)
	}

	if err := c.schedules.Create(sched); err != nil {
		return err
	}
	if sched.IsEnabled && workloadActive(w) {
		if err := c.engine.Arm(sched); err != nil {
			return err
		}
	}
	c.log.Infow("created schedule", "schedule", sched.ID, "workload", w.Name)
	return nil
}

// UpdateSchedule rewrites a schedule's rule and re-arms its trigger so the
// change takes effect immediately.
func (c *Controller) UpdateSchedule(sched *trigger.Schedule) error {
	if err := c.schedules.Update(sched); err != nil {
		return err
	}
	if c.engine.Armed(sched.ID) {
		c.engine.Disarm(sched.ID)
		fresh, err := c.schedules.Get(sched.ID)
		if err != nil {
			return err
		}
		fresh.NextRunAt = nil
		return c.engine.Arm(fresh)
	}
	return nil
}

// DeleteSchedule disarms and removes a schedule.
func (c *Controller) DeleteSchedule(id int64) error {
	c.engine.Disarm(id)
	return c.schedules.Delete(id)
}

// EnableSchedule resumes a paused schedule.
func (c *Controller) EnableSchedule(id int64) error {
	return c.engine.Resume(id)
}

// DisableSchedule pauses a schedule without deleting it.
func (c *Controller) DisableSchedule(id int64) error {
	return c.engine.Pause(id)
}

// Schedules lists a workload's schedules.
func (c *Controller) Schedules(workloadID int64) ([]*trigger.Schedule, error) {
	return c.schedules.ListByWorkload(workloadID)
}

func workloadActive(w *workload.Workload) bool {
	switch w.State {
	case workload.StateEnabled, workload.StateRunning, workload.StateStopped:
		return true
	default:
		return false
	}
}

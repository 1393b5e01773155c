package lifecycle

import (
	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/workload"
)

// Delete removes a workload. Soft delete keeps the row (and its execution
// history) but marks it deleted; hard delete removes the source tree, the
// dependency environment and the database row, cascading to schedules and
// executions. Legal from any non-deleted state; a running workload is
// stopped first and all its triggers disarmed.
func (c *Controller) Delete(id int64, hard bool) error {
	unlock := c.locks.Acquire(id)
	defer unlock()

	w, err := c.workloads.GetByID(id)
	if err != nil {
		return err
	}
	if w.IsDeleted || w.State == workload.StateDeleted {
		return errors.InvalidTransitionf("delete", string(w.State))
	}

	if w.State == workload.StateRunning {
		if err := c.supervisor.Stop(w); err != nil {
			return err
		}
	}

	c.engine.DisarmWorkload(id)

	if !hard {
		if err := c.workloads.SoftDelete(id); err != nil {
			return err
		}
		c.log.Infow("soft-deleted workload", "workload", w.Name)
		return nil
	}

	if err := c.ingestor.Remove(w.Name); err != nil {
		c.log.Warnw("failed to remove source tree", "workload", w.Name, "error", err)
	}
	if err := c.envs.Remove(w.Name); err != nil {
		c.log.Warnw("failed to remove environment", "workload", w.Name, "error", err)
	}
	if err := c.workloads.HardDelete(id); err != nil {
		return err
	}
	c.log.Infow("hard-deleted workload", "workload", w.Name)
	return nil
}

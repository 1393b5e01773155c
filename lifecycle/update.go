package lifecycle

import (
	"context"
	"strconv"

	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/workload"
)

// Update replaces a workload's source with a new archive. The workload is
// stopped if running, the current tree optionally snapshotted, the new
// archive staged and swapped in, dependencies re-provisioned and the
// version bumped; a workload that was running is started again. A corrupt
// archive fails before the old tree is touched.
func (c *Controller) Update(ctx context.Context, id int64, archivePath string, backup bool) error {
	unlock := c.locks.Acquire(id)
	defer unlock()

	w, err := c.workloads.GetByID(id)
	if err != nil {
		return err
	}
	if w.IsDeleted || w.State == workload.StateDeleted {
		return errors.InvalidTransitionf("update", string(w.State))
	}

	wasRunning := w.State == workload.StateRunning
	if wasRunning {
		if err := c.supervisor.Stop(w); err != nil {
			return err
		}
	}

	if backup {
		if _, err := c.ingestor.Backup(w.Name); err != nil {
			return err
		}
	}

	// FromArchive stages the extraction and swaps only on success, so a
	// corrupt archive leaves the installed tree as it was.
	ingested, err := c.ingestor.FromArchive(w.Name, archivePath)
	if err != nil {
		if wasRunning {
			if serr := c.supervisor.Start(w); serr != nil {
				c.log.Errorw("failed to resume workload after rejected update",
					"workload", w.Name, "error", serr)
			}
		}
		return err
	}

	if err := c.provision(ctx, w.Name); err != nil {
		if merr := c.workloads.MarkFailed(id, err.Error()); merr != nil {
			c.log.Errorw("failed to record update failure", "workload", w.Name, "error", merr)
		}
		return err
	}

	version := bumpVersion(w.Version)
	if err := c.workloads.RecordUpdate(id, version, ingested.Entrypoint); err != nil {
		return err
	}
	w.Version = version
	w.Entrypoint = ingested.Entrypoint

	if wasRunning {
		if err := c.supervisor.Start(w); err != nil {
			return err
		}
	}

	c.log.Infow("updated workload", "workload", w.Name, "version", version)
	return nil
}

// bumpVersion increments a numeric version string; non-numeric versions
// restart at 1.
func bumpVersion(v string) string {
	n, err := strconv.Atoi(v)
	if err != nil {
		return "1"
	}
	return strconv.Itoa(n + 1)
}

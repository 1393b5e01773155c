package supervisor

import (
	"context"
	"time"

	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/workload"
	"github.com/shirou/gopsutil/v3/process"
)

const restartExhaustedMsg = "exceeded maximum restart attempts"

// RunMonitor sweeps at the configured interval until ctx is cancelled.
// Liveness is polled; no process-exit notification is assumed.
func (s *Supervisor) RunMonitor(ctx context.Context) {
	interval := time.Duration(s.cfg.Supervisor.MonitorIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Infow("monitor sweep started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.MonitorAll()
		}
	}
}

// MonitorAll checks every workload believed running against OS-level
// liveness and applies restart policy to any whose process is gone.
func (s *Supervisor) MonitorAll() {
	running, err := s.workloads.ListByState(workload.StateRunning)
	if err != nil {
		s.log.Errorw("monitor sweep: listing running workloads failed", "error", err)
		return
	}

	for _, w := range running {
		s.checkOne(w.ID)
	}
}

func (s *Supervisor) checkOne(id int64) {
	if !s.reapDeadProcess(id) {
		return
	}

	// The restart delay runs with no lock held, so manual operations on
	// the same workload are never blocked behind it.
	if delay := time.Duration(s.cfg.Supervisor.RestartDelaySeconds) * time.Second; delay > 0 {
		time.Sleep(delay)
	}
	s.restartAfterExit(id)
}

// reapDeadProcess closes the orphaned execution of a workload whose process
// is gone and applies the terminal half of its restart policy. It reports
// whether the policy calls for a restart.
func (s *Supervisor) reapDeadProcess(id int64) bool {
	unlock := s.locks.Acquire(id)
	defer unlock()

	// Re-read under the lock; a manual stop may have won the race.
	w, err := s.workloads.GetByID(id)
	if err != nil || w.State != workload.StateRunning {
		return false
	}
	if w.PID != nil && pidAlive(*w.PID) {
		return false
	}

	s.log.Warnw("workload process exited unexpectedly",
		"workload", w.Name, "policy", w.RestartPolicy)
	return s.handleExit(w)
}

// handleExit closes the orphaned execution and applies the workload's
// restart policy, reporting whether a restart should follow.
func (s *Supervisor) handleExit(w *workload.Workload) bool {
	if err := s.closeRunningExecution(w.ID, ledger.StatusFailed, "process exited unexpectedly"); err != nil {
		s.log.Errorw("failed to close orphaned execution", "workload", w.Name, "error", err)
	}
	s.mu.Lock()
	delete(s.procs, w.ID)
	s.mu.Unlock()

	switch w.RestartPolicy {
	case workload.RestartNever:
		s.markFailed(w, "process exited and restart policy is never")
		return false

	case workload.RestartAlways:
		return s.markStoppedForRestart(w)

	case workload.RestartOnFailure:
		now := time.Now().UTC()
		if !s.windowElapsed(w, now) && w.RestartCount >= w.MaxRestarts {
			s.markFailed(w, restartExhaustedMsg)
			return false
		}
		return s.markStoppedForRestart(w)

	default:
		s.markFailed(w, "unknown restart policy "+string(w.RestartPolicy))
		return false
	}
}

// markStoppedForRestart records the crash as a stop; the restart itself
// happens after the lock is released.
func (s *Supervisor) markStoppedForRestart(w *workload.Workload) bool {
	// The process is already gone; skip the stop half of restart.
	if err := s.workloads.MarkStopped(w.ID); err != nil {
		s.log.Errorw("failed to mark workload stopped", "workload", w.Name, "error", err)
		return false
	}
	w.State = workload.StateStopped
	w.PID = nil
	return true
}

func (s *Supervisor) restartAfterExit(id int64) {
	unlock := s.locks.Acquire(id)
	defer unlock()

	// Re-read; a manual start, disable or delete may have used the gap.
	w, err := s.workloads.GetByID(id)
	if err != nil || w.IsDeleted || w.State != workload.StateStopped {
		return
	}

	if err := s.Restart(w); err != nil {
		s.log.Errorw("self-heal restart failed", "workload", w.Name, "error", err)
		return
	}
	s.log.Infow("restarted workload after crash",
		"workload", w.Name, "restart_count", w.RestartCount)
}

func (s *Supervisor) markFailed(w *workload.Workload, msg string) {
	if err := s.workloads.MarkFailed(w.ID, msg); err != nil {
		s.log.Errorw("failed to mark workload failed", "workload", w.Name, "error", err)
		return
	}
	w.State = workload.StateFailed
	w.PID = nil
	s.log.Warnw("workload marked failed", "workload", w.Name, "reason", msg)
}

// pidAlive reports whether the pid maps to a live, non-zombie process.
func pidAlive(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	alive, err := p.IsRunning()
	if err != nil || !alive {
		return false
	}
	statuses, err := p.Status()
	if err != nil {
		return alive
	}
	for _, st := range statuses {
		if st == process.Zombie {
			return false
		}
	}
	return true
}

// Package supervisor owns running continuous workloads: it starts and stops
// them, polls OS-level liveness, and enforces restart policy when a process
// dies on its own.
package supervisor

import (
	"sync"
	"time"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/launcher"
	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/workload"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Supervisor methods mutate workload state; callers are expected to hold
// the per-workload lock for Start, Stop and Restart. MonitorAll acquires
// locks itself.
type Supervisor struct {
	cfg        *config.Config
	workloads  *workload.Store
	executions *ledger.Store
	launcher   *launcher.Launcher
	locks      *workload.Locks
	log        *zap.SugaredLogger

	mu    sync.Mutex
	procs map[int64]*launcher.Process
}

func New(cfg *config.Config, workloads *workload.Store, executions *ledger.Store,
	l *launcher.Launcher, locks *workload.Locks, log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		workloads:  workloads,
		executions: executions,
		launcher:   l,
		locks:      locks,
		log:        log,
		procs:      map[int64]*launcher.Process{},
	}
}

func (s *Supervisor) stopTimeout() time.Duration {
	return time.Duration(s.cfg.Supervisor.StopTimeoutSeconds) * time.Second
}

// Start spawns a continuous workload and transitions it to running. A
// workload already running is rejected before any state is touched. Launch
// failure is recorded on both the execution and the workload.
func (s *Supervisor) Start(w *workload.Workload) error {
	if w.State == workload.StateRunning {
		return errors.InvalidTransitionf("start", string(w.State))
	}
	if w.Kind != workload.KindContinuous {
		return errors.Wrapf(errors.ErrValidation,
			"workload %s is %s, only continuous workloads are supervised", w.Name, w.Kind)
	}

	exec := ledger.New(w.ID, ledger.TriggerManual, "start")
	if err := s.executions.Create(exec); err != nil {
		return err
	}

	proc, err := s.launcher.Spawn(w, exec.ID)
	if err != nil {
		if ferr := s.executions.Finish(exec.ID, ledger.StatusFailed, nil, err.Error()); ferr != nil {
			s.log.Errorw("failed to record launch failure", "execution", exec.ID, "error", ferr)
		}
		if merr := s.workloads.MarkFailed(w.ID, err.Error()); merr != nil {
			s.log.Errorw("failed to mark workload failed", "workload", w.Name, "error", merr)
		}
		return err
	}

	pid := proc.PID()
	if err := s.executions.MarkStarted(exec.ID, pid, proc.StdoutPath, proc.StderrPath); err != nil {
		s.log.Errorw("failed to mark execution started", "execution", exec.ID, "error", err)
	}
	if err := s.workloads.MarkRunning(w.ID, pid); err != nil {
		return err
	}

	s.mu.Lock()
	s.procs[w.ID] = proc
	s.mu.Unlock()

	// Reap in the background so the child never zombies; the monitor sweep
	// notices the exit and applies policy.
	go func() { _ = proc.Wait() }()

	w.State = workload.StateRunning
	w.PID = &pid
	s.log.Infow("started workload", "workload", w.Name, "pid", pid)
	return nil
}

// Stop terminates a running workload: graceful signal first, forceful after
// the stop timeout. The open running execution is closed as success, the
// pid cleared, and the workload marked stopped.
func (s *Supervisor) Stop(w *workload.Workload) error {
	if w.State != workload.StateRunning {
		return errors.InvalidTransitionf("stop", string(w.State))
	}

	if w.PID != nil {
		if err := s.terminate(*w.PID); err != nil {
			s.log.Warnw("terminate failed, process may already be gone",
				"workload", w.Name, "pid", *w.PID, "error", err)
		}
	}

	if err := s.closeRunningExecution(w.ID, ledger.StatusSuccess, ""); err != nil {
		s.log.Errorw("failed to close execution", "workload", w.Name, "error", err)
	}

	s.mu.Lock()
	delete(s.procs, w.ID)
	s.mu.Unlock()
	if err := s.workloads.MarkStopped(w.ID); err != nil {
		return err
	}

	w.State = workload.StateStopped
	w.PID = nil
	s.log.Infow("stopped workload", "workload", w.Name)
	return nil
}

// Restart is stop-then-start with restart bookkeeping. Used for manual
// restarts and by the monitor's self-healing path. The configured restart
// delay is applied by the monitor before it calls in, never here, so a
// manual restart is prompt and the per-workload lock is not held through
// a sleep.
func (s *Supervisor) Restart(w *workload.Workload) error {
	if w.State == workload.StateRunning {
		if err := s.Stop(w); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	count := w.RestartCount + 1
	if s.windowElapsed(w, now) {
		count = 1
	}
	if err := s.workloads.RecordRestart(w.ID, count, now); err != nil {
		return err
	}
	w.RestartCount = count
	w.LastRestartAt = &now

	return s.Start(w)
}

// windowElapsed reports whether the restart window has passed since the
// last restart, meaning the counter starts over.
func (s *Supervisor) windowElapsed(w *workload.Workload, now time.Time) bool {
	if w.LastRestartAt == nil {
		return true
	}
	window := time.Duration(w.RestartWindowSeconds) * time.Second
	return now.Sub(*w.LastRestartAt) >= window
}

// closeRunningExecution finishes the workload's open execution, if any.
func (s *Supervisor) closeRunningExecution(workloadID int64, status ledger.Status, msg string) error {
	exec, err := s.executions.FindRunning(workloadID)
	if err != nil || exec == nil {
		return err
	}
	var exitCode *int
	s.mu.Lock()
	if proc, ok := s.procs[workloadID]; ok && proc != nil {
		if code := proc.ExitCode(); code >= 0 {
			exitCode = &code
		}
	}
	s.mu.Unlock()
	return s.executions.Finish(exec.ID, status, exitCode, msg)
}

// Cleanup gracefully terminates every process the supervisor still tracks.
// Persisted state is left alone: the next monitor sweep after a daemon
// restart reconciles it.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	procs := make(map[int64]*launcher.Process, len(s.procs))
	for id, p := range s.procs {
		procs[id] = p
	}
	s.procs = map[int64]*launcher.Process{}
	s.mu.Unlock()

	for id, proc := range procs {
		if err := s.terminate(proc.PID()); err != nil {
			s.log.Warnw("cleanup terminate failed", "workload_id", id, "error", err)
		}
	}
	if len(procs) > 0 {
		s.log.Infow("terminated tracked processes on shutdown", "count", len(procs))
	}
}

// terminate delivers the graceful signal, waits up to the stop timeout for
// the process to exit, then kills it.
func (s *Supervisor) terminate(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		// Already gone.
		return nil
	}

	if err := p.Terminate(); err != nil {
		return errors.Wrapf(err, "signal pid %d", pid)
	}

	deadline := time.Now().Add(s.stopTimeout())
	for time.Now().Before(deadline) {
		alive, err := p.IsRunning()
		if err != nil || !alive {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	s.log.Warnw("graceful stop timed out, killing", "pid", pid)
	if err := p.Kill(); err != nil {
		return errors.Wrapf(err, "kill pid %d", pid)
	}
	return nil
}

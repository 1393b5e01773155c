package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/launcher"
	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/workload"
	"go.uber.org/zap"
)

// Runner executes one workload run attempt end to end: eligibility check,
// ledger bookkeeping, spawn, wait, terminal status.
type Runner struct {
	workloads  *workload.Store
	executions *ledger.Store
	launcher   *launcher.Launcher
	log        *zap.SugaredLogger
}

func NewRunner(workloads *workload.Store, executions *ledger.Store, l *launcher.Launcher, log *zap.SugaredLogger) *Runner {
	return &Runner{workloads: workloads, executions: executions, launcher: l, log: log}
}

// Begin checks the workload can run and records a Pending execution. A
// workload with an execution still in flight is skipped rather than run
// concurrently with itself.
func (r *Runner) Begin(workloadID int64, trigger ledger.TriggerType, detail string) (*ledger.Execution, *workload.Workload, error) {
	w, err := r.workloads.GetByID(workloadID)
	if err != nil {
		return nil, nil, err
	}
	if w.IsDeleted || w.State == workload.StateDeleted {
		return nil, nil, errors.Wrapf(errors.ErrValidation, "workload %s is deleted", w.Name)
	}
	if w.Kind != workload.KindScheduled {
		return nil, nil, errors.Wrapf(errors.ErrValidation,
			"workload %s is not a scheduled workload", w.Name)
	}
	if w.State == workload.StateUploaded {
		return nil, nil, errors.InvalidTransitionf("run", string(w.State))
	}
	if trigger == ledger.TriggerScheduled && w.State == workload.StateDisabled {
		return nil, nil, errors.Wrapf(errors.ErrValidation, "workload %s is disabled", w.Name)
	}

	active, err := r.executions.FindRunning(workloadID)
	if err != nil {
		return nil, nil, err
	}
	if active != nil {
		return nil, nil, errors.Wrapf(errors.ErrValidation,
			"workload %s already has execution %s in flight", w.Name, active.ID)
	}

	exec := ledger.New(workloadID, trigger, detail)
	if err := r.executions.Create(exec); err != nil {
		return nil, nil, err
	}
	return exec, w, nil
}

// Execute spawns the workload and drives the execution to exactly one
// terminal status. A zero timeout means the run is unbounded. Cancelling
// ctx kills the process and records the run as cancelled.
func (r *Runner) Execute(ctx context.Context, exec *ledger.Execution, w *workload.Workload, timeout time.Duration) {
	proc, err := r.launcher.Spawn(w, exec.ID)
	if err != nil {
		r.log.Errorw("execution failed to launch",
			"workload", w.Name, "execution", exec.ID, "error", err)
		r.finish(exec.ID, ledger.StatusFailed, nil, err.Error())
		return
	}

	if err := r.executions.MarkStarted(exec.ID, proc.PID(), proc.StdoutPath, proc.StderrPath); err != nil {
		r.log.Errorw("failed to mark execution started", "execution", exec.ID, "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case waitErr := <-done:
		code := proc.ExitCode()
		if waitErr == nil && code == 0 {
			r.finish(exec.ID, ledger.StatusSuccess, &code, "")
			r.log.Infow("execution succeeded", "workload", w.Name, "execution", exec.ID)
			return
		}
		r.finish(exec.ID, ledger.StatusFailed, &code, exitMessage(waitErr, code))
		r.log.Warnw("execution failed",
			"workload", w.Name, "execution", exec.ID, "exit_code", code)

	case <-deadline:
		_ = proc.Kill()
		<-done
		r.finish(exec.ID, ledger.StatusTimeout, nil,
			"execution exceeded its timeout and was killed")
		r.log.Warnw("execution timed out",
			"workload", w.Name, "execution", exec.ID, "timeout", timeout)

	case <-ctx.Done():
		_ = proc.Kill()
		<-done
		r.finish(exec.ID, ledger.StatusCancelled, nil, "cancelled during shutdown")
		r.log.Infow("execution cancelled",
			"workload", w.Name, "execution", exec.ID)
	}
}

func (r *Runner) finish(id string, status ledger.Status, exitCode *int, msg string) {
	if err := r.executions.Finish(id, status, exitCode, msg); err != nil {
		r.log.Errorw("failed to finish execution",
			"execution", id, "status", status, "error", err)
	}
}

func exitMessage(waitErr error, code int) string {
	if waitErr != nil {
		return waitErr.Error()
	}
	return fmt.Sprintf("exited with code %d", code)
}

package trigger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/errors"
	qtesting "github.com/mantyx/mantyx/internal/testing"
	"github.com/mantyx/mantyx/launcher"
	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/trigger"
	"github.com/mantyx/mantyx/workload"
)

// shellEnv satisfies the environment provider with the system shell, so
// tests can run real short-lived processes without provisioning anything.
type shellEnv struct{}

func (shellEnv) Create(context.Context, string) error                   { return nil }
func (shellEnv) InstallDependencies(context.Context, string, string) error { return nil }
func (shellEnv) Remove(string) error                                    { return nil }
func (shellEnv) RuntimePath(string) string                              { return "/bin/sh" }
func (shellEnv) Exists(string) bool                                     { return true }

type runnerFixture struct {
	cfg        *config.Config
	runner     *trigger.Runner
	workloads  *workload.Store
	executions *ledger.Store
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	db := qtesting.CreateTestDB(t)
	cfg := &config.Config{BaseDir: t.TempDir()}

	workloads := workload.NewStore(db)
	executions := ledger.NewStore(db)
	launch := launcher.New(cfg, shellEnv{}, zap.NewNop().Sugar())
	runner := trigger.NewRunner(workloads, executions, launch, zap.NewNop().Sugar())

	return &runnerFixture{cfg: cfg, runner: runner, workloads: workloads, executions: executions}
}

// createJob registers a scheduled workload whose entrypoint is the given
// shell script body.
func (f *runnerFixture) createJob(t *testing.T, name, script string) *workload.Workload {
	t.Helper()
	appDir := filepath.Join(f.cfg.AppsDir(), name)
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "main.py"), []byte(script), 0o644))

	w := &workload.Workload{
		Name:        name,
		DisplayName: name,
		Kind:        workload.KindScheduled,
		State:       workload.StateEnabled,
		Version:     "1",
		Entrypoint:  "main.py",
	}
	require.NoError(t, f.workloads.Create(w))
	return w
}

func TestRunnerSuccessfulExecution(t *testing.T) {
	f := newRunnerFixture(t)
	w := f.createJob(t, "ok-job", "echo hello\nexit 0\n")

	exec, got, err := f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	require.NoError(t, err)
	f.runner.Execute(context.Background(), exec, got, 0)

	final, err := f.executions.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Zero(t, *final.ExitCode)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.EndedAt)

	out, err := os.ReadFile(final.StdoutPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
}

func TestRunnerFailedExecution(t *testing.T) {
	f := newRunnerFixture(t)
	w := f.createJob(t, "bad-job", "exit 3\n")

	exec, got, err := f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	require.NoError(t, err)
	f.runner.Execute(context.Background(), exec, got, 0)

	final, err := f.executions.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 3, *final.ExitCode)
}

func TestRunnerTimeoutKillsProcess(t *testing.T) {
	f := newRunnerFixture(t)
	w := f.createJob(t, "slow-job", "sleep 10\n")

	exec, got, err := f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	require.NoError(t, err)

	start := time.Now()
	f.runner.Execute(context.Background(), exec, got, time.Second)
	assert.Less(t, time.Since(start), 5*time.Second, "kill must not wait for the sleep")

	final, err := f.executions.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusTimeout, final.Status)
	assert.NotEmpty(t, final.ErrorMessage)
}

func TestRunnerCancellation(t *testing.T) {
	f := newRunnerFixture(t)
	w := f.createJob(t, "cancel-job", "sleep 10\n")

	exec, got, err := f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	f.runner.Execute(ctx, exec, got, 0)

	final, err := f.executions.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, final.Status)
}

func TestRunnerLaunchFailureRecorded(t *testing.T) {
	f := newRunnerFixture(t)
	w := f.createJob(t, "broken-job", "exit 0\n")
	require.NoError(t, os.Remove(filepath.Join(f.cfg.AppsDir(), w.Name, "main.py")))

	exec, got, err := f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	require.NoError(t, err)
	f.runner.Execute(context.Background(), exec, got, 0)

	final, err := f.executions.Get(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "entrypoint")
}

func TestRunnerRefusesOverlappingRuns(t *testing.T) {
	f := newRunnerFixture(t)
	w := f.createJob(t, "busy-job", "exit 0\n")

	first, _, err := f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	require.NoError(t, err)
	require.NoError(t, f.executions.MarkStarted(first.ID, 1, "", ""))

	_, _, err = f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestRunnerBeginRejectsContinuousWorkloads(t *testing.T) {
	f := newRunnerFixture(t)

	// Continuous workloads belong to the supervisor; dispatching one as a
	// one-shot job would bypass pid and restart bookkeeping entirely.
	w := &workload.Workload{
		Name:        "svc",
		DisplayName: "svc",
		Kind:        workload.KindContinuous,
		State:       workload.StateEnabled,
		Version:     "1",
		Entrypoint:  "main.py",
	}
	require.NoError(t, f.workloads.Create(w))

	_, _, err := f.runner.Begin(w.ID, ledger.TriggerManual, "manual")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Contains(t, err.Error(), "not a scheduled workload")
}

func TestRunnerBeginGuards(t *testing.T) {
	f := newRunnerFixture(t)

	w := f.createJob(t, "raw-job", "exit 0\n")
	require.NoError(t, f.workloads.SetState(w.ID, workload.StateUploaded))
	_, _, err := f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	require.NoError(t, f.workloads.SetState(w.ID, workload.StateDisabled))
	_, _, err = f.runner.Begin(w.ID, ledger.TriggerScheduled, "schedule:1")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	// A manual run is allowed while disabled.
	exec, got, err := f.runner.Begin(w.ID, ledger.TriggerManual, "manual")
	require.NoError(t, err)
	f.runner.Execute(context.Background(), exec, got, 0)

	require.NoError(t, f.workloads.SoftDelete(w.ID))
	_, _, err = f.runner.Begin(w.ID, ledger.TriggerManual, "manual")
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

package lifecycle_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/errors"
	qtesting "github.com/mantyx/mantyx/internal/testing"
	"github.com/mantyx/mantyx/launcher"
	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/lifecycle"
	"github.com/mantyx/mantyx/source"
	"github.com/mantyx/mantyx/supervisor"
	"github.com/mantyx/mantyx/trigger"
	"github.com/mantyx/mantyx/workload"
)

type shellEnv struct{}

func (shellEnv) Create(context.Context, string) error                      { return nil }
func (shellEnv) InstallDependencies(context.Context, string, string) error { return nil }
func (shellEnv) Remove(string) error                                       { return nil }
func (shellEnv) RuntimePath(string) string                                 { return "/bin/sh" }
func (shellEnv) Exists(string) bool                                        { return true }

type fixture struct {
	cfg        *config.Config
	controller *lifecycle.Controller
	workloads  *workload.Store
	schedules  *trigger.Store
	engine     *trigger.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := qtesting.CreateTestDB(t)
	cfg := &config.Config{
		BaseDir: t.TempDir(),
		Ingest:  config.IngestConfig{MaxUploadSizeMB: 10, BackupRetention: 3},
		Supervisor: config.SupervisorConfig{
			MonitorIntervalSeconds: 1,
			StopTimeoutSeconds:     3,
		},
		Trigger: config.TriggerConfig{
			Workers:             2,
			TickIntervalSeconds: 1,
			Timezone:            "UTC",
			DrainTimeoutSeconds: 1,
		},
	}

	log := zap.NewNop().Sugar()
	workloads := workload.NewStore(db)
	schedules := trigger.NewStore(db)
	executions := ledger.NewStore(db)
	locks := workload.NewLocks()

	launch := launcher.New(cfg, shellEnv{}, log)
	ingestor := source.NewIngestor(cfg, log)
	sup := supervisor.New(cfg, workloads, executions, launch, locks, log)
	runner := trigger.NewRunner(workloads, executions, launch, log)
	engine, err := trigger.NewEngine(cfg, schedules, runner, log)
	require.NoError(t, err)

	controller := lifecycle.NewController(cfg, workloads, schedules, executions,
		sup, engine, shellEnv{}, ingestor, locks, log)

	return &fixture{cfg: cfg, controller: controller, workloads: workloads, schedules: schedules, engine: engine}
}

// makeArchive writes a zip with the given files and returns its path.
func makeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func (f *fixture) createScheduledJob(t *testing.T, name string) *workload.Workload {
	t.Helper()
	archive := makeArchive(t, map[string]string{"main.py": "exit 0\n"})
	w, err := f.controller.CreateFromArchive(lifecycle.CreateSpec{
		Name: name,
		Kind: workload.KindScheduled,
	}, archive)
	require.NoError(t, err)
	return w
}

func TestCreateFromArchiveDetectsEntrypoint(t *testing.T) {
	f := newFixture(t)
	archive := makeArchive(t, map[string]string{
		"util.py": "pass\n",
		"app.py":  "exit 0\n",
	})

	w, err := f.controller.CreateFromArchive(lifecycle.CreateSpec{Name: "svc"}, archive)
	require.NoError(t, err)
	assert.Equal(t, workload.StateUploaded, w.State)
	assert.Equal(t, "app.py", w.Entrypoint)
	assert.FileExists(t, filepath.Join(f.cfg.AppsDir(), "svc", "app.py"))
}

func TestEnableDisableRoundTrip(t *testing.T) {
	f := newFixture(t)
	w := f.createScheduledJob(t, "job")

	require.NoError(t, f.controller.Install(context.Background(), w.ID))

	sched := &trigger.Schedule{
		WorkloadID:      w.ID,
		Name:            "tick",
		Type:            trigger.TypeInterval,
		IntervalSeconds: 60,
		IsEnabled:       true,
	}
	require.NoError(t, f.schedules.Create(sched))

	require.NoError(t, f.controller.Enable(w.ID))
	assert.True(t, f.engine.Armed(sched.ID))

	require.NoError(t, f.controller.Disable(w.ID))
	assert.False(t, f.engine.Armed(sched.ID))

	require.NoError(t, f.controller.Enable(w.ID))
	assert.True(t, f.engine.Armed(sched.ID))

	persisted, err := f.workloads.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workload.StateEnabled, persisted.State)
	assert.Nil(t, persisted.PID)
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	w := f.createScheduledJob(t, "job")

	// Enable before install.
	err := f.controller.Enable(w.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	// Stop when nothing is running.
	err = f.controller.Stop(w.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	require.NoError(t, f.controller.Install(context.Background(), w.ID))

	// Install twice.
	err = f.controller.Install(context.Background(), w.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestContinuousEnableStartsProcess(t *testing.T) {
	f := newFixture(t)
	archive := makeArchive(t, map[string]string{"main.py": "sleep 30\n"})
	w, err := f.controller.CreateFromArchive(lifecycle.CreateSpec{
		Name: "svc",
		Kind: workload.KindContinuous,
	}, archive)
	require.NoError(t, err)

	require.NoError(t, f.controller.Install(context.Background(), w.ID))
	require.NoError(t, f.controller.Enable(w.ID))

	persisted, err := f.workloads.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workload.StateRunning, persisted.State)
	require.NotNil(t, persisted.PID)

	require.NoError(t, f.controller.Disable(w.ID))
	persisted, err = f.workloads.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workload.StateDisabled, persisted.State)
	assert.Nil(t, persisted.PID)
}

func TestSoftDeleteRemovesTriggers(t *testing.T) {
	f := newFixture(t)
	w := f.createScheduledJob(t, "job")
	require.NoError(t, f.controller.Install(context.Background(), w.ID))

	sched := &trigger.Schedule{
		WorkloadID:      w.ID,
		Name:            "tick",
		Type:            trigger.TypeInterval,
		IntervalSeconds: 60,
		IsEnabled:       true,
	}
	require.NoError(t, f.schedules.Create(sched))
	require.NoError(t, f.controller.Enable(w.ID))
	require.True(t, f.engine.Armed(sched.ID))

	require.NoError(t, f.controller.Delete(w.ID, false))
	assert.False(t, f.engine.Armed(sched.ID))

	persisted, err := f.workloads.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workload.StateDeleted, persisted.State)
	assert.True(t, persisted.IsDeleted)

	// Deleting again is an invalid transition.
	err = f.controller.Delete(w.ID, false)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestHardDeleteRemovesEverything(t *testing.T) {
	f := newFixture(t)
	w := f.createScheduledJob(t, "job")
	require.NoError(t, f.controller.Install(context.Background(), w.ID))

	require.NoError(t, f.controller.Delete(w.ID, true))
	_, err := f.workloads.GetByID(w.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.NoDirExists(t, filepath.Join(f.cfg.AppsDir(), "job"))
}

func TestUpdateWithCorruptArchiveKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	w := f.createScheduledJob(t, "job")
	require.NoError(t, f.controller.Install(context.Background(), w.ID))

	corrupt := filepath.Join(t.TempDir(), "corrupt.zip")
	require.NoError(t, os.WriteFile(corrupt, []byte("this is not a zip"), 0o644))

	err := f.controller.Update(context.Background(), w.ID, corrupt, false)
	require.Error(t, err)

	assert.FileExists(t, filepath.Join(f.cfg.AppsDir(), "job", "main.py"),
		"rejected update must not destroy the installed tree")
	persisted, err := f.workloads.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", persisted.Version)
}

func TestUpdateReplacesSourceAndBumpsVersion(t *testing.T) {
	f := newFixture(t)
	w := f.createScheduledJob(t, "job")
	require.NoError(t, f.controller.Install(context.Background(), w.ID))

	replacement := makeArchive(t, map[string]string{"run.py": "exit 0\n"})
	require.NoError(t, f.controller.Update(context.Background(), w.ID, replacement, true))

	persisted, err := f.workloads.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", persisted.Version)
	assert.Equal(t, "run.py", persisted.Entrypoint)
	assert.Equal(t, 1, persisted.UpdateCount)

	assert.FileExists(t, filepath.Join(f.cfg.AppsDir(), "job", "run.py"))
	assert.NoFileExists(t, filepath.Join(f.cfg.AppsDir(), "job", "main.py"))

	// The pre-update snapshot landed in the backups directory.
	entries, err := os.ReadDir(filepath.Join(f.cfg.BackupsDir(), "job"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCreateScheduleRejectsContinuousWorkload(t *testing.T) {
	f := newFixture(t)
	archive := makeArchive(t, map[string]string{"main.py": "sleep 30\n"})
	w, err := f.controller.CreateFromArchive(lifecycle.CreateSpec{
		Name: "svc",
		Kind: workload.KindContinuous,
	}, archive)
	require.NoError(t, err)

	err = f.controller.CreateSchedule(&trigger.Schedule{
		WorkloadID:      w.ID,
		Name:            "tick",
		Type:            trigger.TypeInterval,
		IntervalSeconds: 60,
	})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestStatusCapabilities(t *testing.T) {
	f := newFixture(t)
	w := f.createScheduledJob(t, "job")
	require.NoError(t, f.controller.Install(context.Background(), w.ID))

	st, err := f.controller.Status(w.ID)
	require.NoError(t, err)
	assert.False(t, st.IsRunning)
	assert.True(t, st.CanEnable)
	assert.False(t, st.CanStop)
	assert.Nil(t, st.ActiveExecution)
}

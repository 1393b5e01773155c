package workload_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantyx/mantyx/errors"
	qtesting "github.com/mantyx/mantyx/internal/testing"
	"github.com/mantyx/mantyx/workload"
)

func newWorkload(name string) *workload.Workload {
	return &workload.Workload{
		Name:                 name,
		DisplayName:          name,
		Kind:                 workload.KindContinuous,
		State:                workload.StateUploaded,
		Version:              "1",
		Entrypoint:           "main.py",
		RestartPolicy:        workload.RestartOnFailure,
		MaxRestarts:          3,
		RestartWindowSeconds: 300,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	w := newWorkload("api-server")
	w.Environment = map[string]string{"PORT": "8080"}
	w.Args = "--verbose"

	require.NoError(t, store.Create(w))
	assert.NotZero(t, w.ID)

	got, err := store.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "api-server", got.Name)
	assert.Equal(t, workload.StateUploaded, got.State)
	assert.Equal(t, workload.RestartOnFailure, got.RestartPolicy)
	assert.Equal(t, map[string]string{"PORT": "8080"}, got.Environment)
	assert.Equal(t, "--verbose", got.Args)
	assert.Nil(t, got.PID)

	byName, err := store.GetByName("api-server")
	require.NoError(t, err)
	assert.Equal(t, w.ID, byName.ID)
}

// A row inserted without version or restart_policy picks up column defaults
// matching what the code itself would assign.
func TestSchemaDefaultsMatchCode(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	_, err := db.Exec(`
		INSERT INTO workloads (name, display_name, kind, entrypoint, created_at, updated_at)
		VALUES ('bare', 'bare', 'continuous', 'main.py', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	got, err := store.GetByName("bare")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Version)
	assert.Equal(t, workload.RestartNever, got.RestartPolicy)
	assert.Equal(t, workload.StateUploaded, got.State)
}

func TestStoreGetMissing(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	_, err := store.GetByID(999)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = store.GetByName("ghost")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStoreRunningLifecycle(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	w := newWorkload("worker")
	require.NoError(t, store.Create(w))

	require.NoError(t, store.MarkRunning(w.ID, 4242))
	got, err := store.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workload.StateRunning, got.State)
	require.NotNil(t, got.PID)
	assert.Equal(t, 4242, *got.PID)
	assert.True(t, got.IsRunning())

	require.NoError(t, store.MarkStopped(w.ID))
	got, err = store.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workload.StateStopped, got.State)
	assert.Nil(t, got.PID)
}

func TestStoreMarkFailedRecordsError(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	w := newWorkload("crasher")
	require.NoError(t, store.Create(w))
	require.NoError(t, store.MarkRunning(w.ID, 99))

	require.NoError(t, store.MarkFailed(w.ID, "exceeded maximum restart attempts"))
	got, err := store.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workload.StateFailed, got.State)
	assert.Nil(t, got.PID)
	assert.Equal(t, "exceeded maximum restart attempts", got.LastError)
	assert.NotNil(t, got.LastErrorAt)
}

func TestStoreRecordRestart(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	w := newWorkload("flaky")
	require.NoError(t, store.Create(w))

	at := time.Now().UTC()
	require.NoError(t, store.RecordRestart(w.ID, 2, at))

	got, err := store.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RestartCount)
	require.NotNil(t, got.LastRestartAt)
	assert.WithinDuration(t, at, *got.LastRestartAt, time.Second)
}

func TestStoreRecordUpdate(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	w := newWorkload("updatable")
	require.NoError(t, store.Create(w))

	require.NoError(t, store.RecordUpdate(w.ID, "2", "app.py"))
	got, err := store.GetByID(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", got.Version)
	assert.Equal(t, "app.py", got.Entrypoint)
	assert.Equal(t, 1, got.UpdateCount)
	assert.NotNil(t, got.LastUpdatedAt)
}

func TestStoreSoftDelete(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	w := newWorkload("doomed")
	require.NoError(t, store.Create(w))
	require.NoError(t, store.SoftDelete(w.ID))

	visible, err := store.List(false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := store.List(true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsDeleted)
	assert.Equal(t, workload.StateDeleted, all[0].State)
}

func TestStoreHardDeleteCascades(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	w := newWorkload("cascading")
	require.NoError(t, store.Create(w))

	_, err := db.Exec(`
		INSERT INTO schedules (workload_id, name, schedule_type, interval_seconds, created_at, updated_at)
		VALUES (?, 'tick', 'interval', 60, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`, w.ID)
	require.NoError(t, err)

	require.NoError(t, store.HardDelete(w.ID))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schedules`).Scan(&count))
	assert.Zero(t, count)
}

func TestStoreListByState(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := workload.NewStore(db)

	a := newWorkload("a")
	b := newWorkload("b")
	require.NoError(t, store.Create(a))
	require.NoError(t, store.Create(b))
	require.NoError(t, store.MarkRunning(b.ID, 7))

	running, err := store.ListByState(workload.StateRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "b", running[0].Name)
}

func TestCapabilityPredicates(t *testing.T) {
	w := newWorkload("caps")

	w.State = workload.StateInstalled
	assert.True(t, w.CanEnable())
	assert.False(t, w.CanStart())

	w.State = workload.StateEnabled
	assert.True(t, w.CanStart())
	assert.True(t, w.CanDisable())
	assert.False(t, w.CanStop())

	w.State = workload.StateRunning
	assert.True(t, w.CanStop())
	assert.False(t, w.CanStart())

	w.State = workload.StateFailed
	assert.True(t, w.CanStart())
	assert.True(t, w.CanDisable())
}

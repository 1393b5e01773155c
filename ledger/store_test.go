package ledger_test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantyx/mantyx/errors"
	qtesting "github.com/mantyx/mantyx/internal/testing"
	"github.com/mantyx/mantyx/ledger"
	"github.com/mantyx/mantyx/workload"
)

func seedWorkload(t *testing.T, store *workload.Store, name string) int64 {
	t.Helper()
	w := &workload.Workload{
		Name:        name,
		DisplayName: name,
		Kind:        workload.KindScheduled,
		State:       workload.StateEnabled,
		Version:     "1",
		Entrypoint:  "main.py",
	}
	require.NoError(t, store.Create(w))
	return w.ID
}

func TestExecutionLifecycle(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	workloads := workload.NewStore(db)
	store := ledger.NewStore(db)
	wid := seedWorkload(t, workloads, "job")

	e := ledger.New(wid, ledger.TriggerScheduled, "schedule:1")
	require.NoError(t, store.Create(e))
	assert.Equal(t, ledger.StatusPending, e.Status)

	require.NoError(t, store.MarkStarted(e.ID, 1234, "/logs/out", "/logs/err"))
	got, err := store.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRunning, got.Status)
	require.NotNil(t, got.PID)
	assert.Equal(t, 1234, *got.PID)
	assert.NotNil(t, got.StartedAt)
	assert.True(t, got.Active())

	code := 0
	require.NoError(t, store.Finish(e.ID, ledger.StatusSuccess, &code, ""))
	got, err = store.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Zero(t, *got.ExitCode)
	assert.NotNil(t, got.EndedAt)
	assert.False(t, got.Active())
}

func TestTerminalExecutionIsImmutable(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	workloads := workload.NewStore(db)
	store := ledger.NewStore(db)
	wid := seedWorkload(t, workloads, "job")

	e := ledger.New(wid, ledger.TriggerManual, "manual")
	require.NoError(t, store.Create(e))
	require.NoError(t, store.Finish(e.ID, ledger.StatusCancelled, nil, "cancelled during shutdown"))

	err := store.Finish(e.ID, ledger.StatusSuccess, nil, "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = store.MarkStarted(e.ID, 1, "", "")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	got, err := store.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, got.Status)
	assert.Equal(t, "cancelled during shutdown", got.ErrorMessage)
}

func TestFinishRejectsNonTerminalStatus(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	store := ledger.NewStore(db)

	err := store.Finish("whatever", ledger.StatusRunning, nil, "")
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestFindRunning(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	workloads := workload.NewStore(db)
	store := ledger.NewStore(db)
	wid := seedWorkload(t, workloads, "job")

	found, err := store.FindRunning(wid)
	require.NoError(t, err)
	assert.Nil(t, found)

	e := ledger.New(wid, ledger.TriggerManual, "start")
	require.NoError(t, store.Create(e))
	require.NoError(t, store.MarkStarted(e.ID, 55, "", ""))

	found, err = store.FindRunning(wid)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, e.ID, found.ID)
}

func TestListByWorkloadPagination(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	workloads := workload.NewStore(db)
	store := ledger.NewStore(db)
	wid := seedWorkload(t, workloads, "job")
	other := seedWorkload(t, workloads, "other")

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ledger.New(wid, ledger.TriggerScheduled, "schedule:1")))
	}
	require.NoError(t, store.Create(ledger.New(other, ledger.TriggerManual, "manual")))

	page, err := store.ListByWorkload(wid, 3, 0)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	rest, err := store.ListByWorkload(wid, 3, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	all, err := store.List(0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestFinishPropagatesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE executions").
		WillReturnError(assert.AnError)

	store := ledger.NewStore(db)
	code := 1
	err = store.Finish("abc", ledger.StatusFailed, &code, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to finish execution")
	assert.NoError(t, mock.ExpectationsWereMet())
}

package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantyx/mantyx/errors"
	qtesting "github.com/mantyx/mantyx/internal/testing"
	"github.com/mantyx/mantyx/settings"
)

func TestSetAndGet(t *testing.T) {
	store := settings.NewStore(qtesting.CreateTestDB(t))

	require.NoError(t, store.Set("default.restart_policy", "on-failure"))
	got, err := store.Get("default.restart_policy")
	require.NoError(t, err)
	assert.Equal(t, "on-failure", got)

	// Overwrite keeps a single row per key.
	require.NoError(t, store.Set("default.restart_policy", "always"))
	got, err = store.Get("default.restart_policy")
	require.NoError(t, err)
	assert.Equal(t, "always", got)

	all, err := store.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"default.restart_policy": "always"}, all)
}

func TestGetMissing(t *testing.T) {
	store := settings.NewStore(qtesting.CreateTestDB(t))

	_, err := store.Get("nope")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, "fallback", store.GetDefault("nope", "fallback"))
}

func TestDelete(t *testing.T) {
	store := settings.NewStore(qtesting.CreateTestDB(t))

	require.NoError(t, store.Set("k", "v"))
	require.NoError(t, store.Delete("k"))
	_, err := store.Get("k")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	// Deleting again is fine.
	require.NoError(t, store.Delete("k"))
}

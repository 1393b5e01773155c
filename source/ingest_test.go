package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mantyx/mantyx/config"
)

func newIngestor(t *testing.T) *Ingestor {
	t.Helper()
	cfg := &config.Config{
		BaseDir: t.TempDir(),
		Ingest:  config.IngestConfig{MaxUploadSizeMB: 10, BackupRetention: 2},
	}
	return NewIngestor(cfg, zap.NewNop().Sugar())
}

func TestIngestorFromArchive(t *testing.T) {
	ing := newIngestor(t)
	archive := writeZip(t, map[string]string{"main.py": "print('v1')\n"})

	got, err := ing.FromArchive("app", archive)
	require.NoError(t, err)
	assert.Equal(t, "main.py", got.Entrypoint)
	assert.FileExists(t, filepath.Join(got.Dir, "main.py"))

	// Staging directories are cleaned up.
	entries, err := os.ReadDir(ing.cfg.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngestorReplaceKeepsTreeOnFailure(t *testing.T) {
	ing := newIngestor(t)
	v1 := writeZip(t, map[string]string{"main.py": "print('v1')\n"})
	_, err := ing.FromArchive("app", v1)
	require.NoError(t, err)

	corrupt := filepath.Join(t.TempDir(), "corrupt.zip")
	require.NoError(t, os.WriteFile(corrupt, []byte("junk"), 0o644))

	_, err = ing.FromArchive("app", corrupt)
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(ing.appDir("app"), "main.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "v1")
}

func TestIngestorReplaceSwapsOnSuccess(t *testing.T) {
	ing := newIngestor(t)
	v1 := writeZip(t, map[string]string{"main.py": "print('v1')\n", "old.py": "pass\n"})
	_, err := ing.FromArchive("app", v1)
	require.NoError(t, err)

	v2 := writeZip(t, map[string]string{"run.py": "print('v2')\n"})
	got, err := ing.FromArchive("app", v2)
	require.NoError(t, err)
	assert.Equal(t, "run.py", got.Entrypoint)

	assert.FileExists(t, filepath.Join(ing.appDir("app"), "run.py"))
	assert.NoFileExists(t, filepath.Join(ing.appDir("app"), "main.py"))
	assert.NoFileExists(t, filepath.Join(ing.appDir("app"), "old.py"))
}

func TestBackupAndPrune(t *testing.T) {
	ing := newIngestor(t)
	v1 := writeZip(t, map[string]string{"main.py": "print('v1')\n"})
	_, err := ing.FromArchive("app", v1)
	require.NoError(t, err)

	// Two stale snapshots already on disk; retention is 2, so the oldest
	// goes when the new backup lands.
	root := filepath.Join(ing.cfg.BackupsDir(), "app")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "20200101T000000"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "20200102T000000"), 0o755))

	path, err := ing.Backup("app")
	require.NoError(t, err)
	require.NotEmpty(t, path)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "20200102T000000", entries[0].Name())
	assert.DirExists(t, path)
}

func TestBackupMissingTree(t *testing.T) {
	ing := newIngestor(t)
	path, err := ing.Backup("ghost")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestRestoreBackup(t *testing.T) {
	ing := newIngestor(t)
	v1 := writeZip(t, map[string]string{"main.py": "print('v1')\n"})
	_, err := ing.FromArchive("app", v1)
	require.NoError(t, err)

	backup, err := ing.Backup("app")
	require.NoError(t, err)

	v2 := writeZip(t, map[string]string{"main.py": "print('v2')\n"})
	_, err = ing.FromArchive("app", v2)
	require.NoError(t, err)

	require.NoError(t, ing.RestoreBackup("app", backup))
	data, err := os.ReadFile(filepath.Join(ing.appDir("app"), "main.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "v1")

	// Paths outside the backups dir are refused.
	err = ing.RestoreBackup("app", t.TempDir())
	assert.Error(t, err)
}

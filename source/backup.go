package source

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mantyx/mantyx/errors"
)

// Backup snapshots a workload's installed tree into the backups directory
// with a timestamped name, then prunes old snapshots beyond the retention
// limit. Returns the backup path, or "" when there is nothing to back up.
func (i *Ingestor) Backup(name string) (string, error) {
	src := i.appDir(name)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "stat source tree")
	}

	root := filepath.Join(i.cfg.BackupsDir(), name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", errors.Wrap(err, "create backups dir")
	}

	dest := filepath.Join(root, time.Now().UTC().Format("20060102T150405"))
	if err := copyTree(src, dest); err != nil {
		os.RemoveAll(dest)
		return "", err
	}

	if err := i.pruneBackups(root); err != nil {
		i.log.Warnw("backup pruning failed", "workload", name, "error", err)
	}
	i.log.Infow("backed up workload source", "workload", name, "backup", dest)
	return dest, nil
}

func (i *Ingestor) pruneBackups(root string) error {
	keep := i.cfg.Ingest.BackupRetention
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
			return err
		}
	}
	return nil
}

// RestoreBackup replaces the installed tree with the named backup.
func (i *Ingestor) RestoreBackup(name, backupPath string) error {
	if !strings.HasPrefix(filepath.Clean(backupPath), filepath.Clean(i.cfg.BackupsDir())) {
		return errors.Wrap(errors.ErrValidation, "backup path outside backups dir")
	}
	dest := i.appDir(name)
	if err := os.RemoveAll(dest); err != nil {
		return errors.Wrap(err, "clear installed tree")
	}
	return copyTree(backupPath, dest)
}

func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

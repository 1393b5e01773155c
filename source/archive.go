// Package source ingests workload code from archives, git repositories and
// remote URLs, and manages on-disk backups of installed trees.
package source

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mantyx/mantyx/errors"
)

// entrypointCandidates is checked in order; the first match wins. A tree
// with none of these falls back to the first script found at the root.
var entrypointCandidates = []string{"main.py", "app.py", "__main__.py", "run.py", "start.py"}

// ExtractArchive unpacks a zip archive into dest. Entries that would escape
// dest (absolute paths or .. traversal) abort the extraction; dest is left
// partially written, so callers should extract into a staging directory and
// swap on success.
func ExtractArchive(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return errors.Wrapf(errors.ErrValidation, "open archive: %v", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errors.Wrap(err, "create extraction dir")
	}

	for _, f := range r.File {
		target, err := sanitizePath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrap(err, "create dir from archive")
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrap(err, "create parent dir")
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return errors.Wrapf(errors.ErrValidation, "open archive entry %s: %v", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return errors.Wrap(err, "create extracted file")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "write %s", f.Name)
	}
	return nil
}

// sanitizePath rejects archive entry names that would write outside root.
func sanitizePath(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", errors.Wrapf(errors.ErrValidation, "archive entry %s has absolute path", name)
	}
	target := filepath.Join(root, name)
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", errors.Wrapf(errors.ErrValidation, "archive entry %s escapes extraction dir", name)
	}
	return target, nil
}

// DetectEntrypoint picks the workload's entrypoint script from an extracted
// tree. Well-known names are preferred; otherwise the first script at the
// tree root is used.
func DetectEntrypoint(dir string) (string, error) {
	for _, name := range entrypointCandidates {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return name, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrap(err, "read extracted tree")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".py") {
			return e.Name(), nil
		}
	}
	return "", errors.Wrap(errors.ErrValidation, "no entrypoint script found in archive")
}

// CheckArchiveSize enforces the configured upload ceiling before anything
// is unpacked.
func CheckArchiveSize(archivePath string, maxBytes int64) error {
	info, err := os.Stat(archivePath)
	if err != nil {
		return errors.Wrapf(errors.ErrValidation, "stat archive: %v", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return errors.Wrapf(errors.ErrValidation,
			"archive is %d bytes, exceeds the %d byte limit", info.Size(), maxBytes)
	}
	return nil
}

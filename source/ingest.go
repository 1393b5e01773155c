package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	getter "github.com/hashicorp/go-getter"
	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/errors"
	"go.uber.org/zap"
)

// Ingestor materializes workload source trees under the apps directory.
// All ingestion paths stage into a temp directory first and swap into place
// only on success, so a bad upload never clobbers an installed tree.
type Ingestor struct {
	cfg *config.Config
	log *zap.SugaredLogger
}

func NewIngestor(cfg *config.Config, log *zap.SugaredLogger) *Ingestor {
	return &Ingestor{cfg: cfg, log: log}
}

// Ingested describes a materialized source tree.
type Ingested struct {
	Dir        string
	Entrypoint string

	// Git provenance, populated only for git ingestion.
	GitURL    string
	GitBranch string
	GitCommit string
}

func (i *Ingestor) appDir(name string) string {
	return filepath.Join(i.cfg.AppsDir(), name)
}

func (i *Ingestor) stagingDir(name string) (string, error) {
	if err := os.MkdirAll(i.cfg.TempDir(), 0o755); err != nil {
		return "", errors.Wrap(err, "create temp dir")
	}
	return os.MkdirTemp(i.cfg.TempDir(), name+"-*")
}

// FromArchive validates, extracts and installs a local zip archive.
func (i *Ingestor) FromArchive(name, archivePath string) (*Ingested, error) {
	if err := CheckArchiveSize(archivePath, i.cfg.MaxUploadSizeBytes()); err != nil {
		return nil, err
	}

	staging, err := i.stagingDir(name)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	if err := ExtractArchive(archivePath, staging); err != nil {
		return nil, err
	}
	entry, err := DetectEntrypoint(staging)
	if err != nil {
		return nil, err
	}

	dir, err := i.install(name, staging)
	if err != nil {
		return nil, err
	}
	i.log.Infow("ingested archive", "workload", name, "entrypoint", entry)
	return &Ingested{Dir: dir, Entrypoint: entry}, nil
}

// FromGit clones a repository at the given branch (or the remote default
// when branch is empty) and records the resolved commit.
func (i *Ingestor) FromGit(ctx context.Context, name, url, branch string) (*Ingested, error) {
	staging, err := i.stagingDir(name)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	opts := &git.CloneOptions{URL: url, Depth: 1}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, staging, false, opts)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrValidation, "clone %s: %v", url, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, errors.Wrap(err, "resolve HEAD")
	}

	// The clone's metadata is not part of the workload.
	if err := os.RemoveAll(filepath.Join(staging, ".git")); err != nil {
		return nil, errors.Wrap(err, "strip git metadata")
	}

	entry, err := DetectEntrypoint(staging)
	if err != nil {
		return nil, err
	}

	dir, err := i.install(name, staging)
	if err != nil {
		return nil, err
	}
	i.log.Infow("ingested git repository",
		"workload", name, "url", url, "commit", head.Hash().String())
	return &Ingested{
		Dir:        dir,
		Entrypoint: entry,
		GitURL:     url,
		GitBranch:  branch,
		GitCommit:  head.Hash().String(),
	}, nil
}

// FromURL downloads a remote archive and hands it to FromArchive. go-getter
// understands plain https, s3 and git-style sources; here it is used for
// fetching archives the caller cannot upload directly.
func (i *Ingestor) FromURL(ctx context.Context, name, url string) (*Ingested, error) {
	staging, err := i.stagingDir(name + "-dl")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	archivePath := filepath.Join(staging, "source.zip")
	client := &getter.Client{
		Ctx:  ctx,
		Src:  url,
		Dst:  archivePath,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return nil, errors.Wrapf(errors.ErrValidation, "fetch %s: %v", url, err)
	}
	return i.FromArchive(name, archivePath)
}

// install swaps a staged tree into the apps directory, replacing any
// previous tree for the same workload atomically from the caller's point of
// view: the old tree is moved aside and restored if the swap fails.
func (i *Ingestor) install(name, staging string) (string, error) {
	dest := i.appDir(name)
	if err := os.MkdirAll(i.cfg.AppsDir(), 0o755); err != nil {
		return "", errors.Wrap(err, "create apps dir")
	}

	var aside string
	if _, err := os.Stat(dest); err == nil {
		aside = fmt.Sprintf("%s.replaced", dest)
		os.RemoveAll(aside)
		if err := os.Rename(dest, aside); err != nil {
			return "", errors.Wrap(err, "move previous tree aside")
		}
	}

	if err := os.Rename(staging, dest); err != nil {
		if aside != "" {
			_ = os.Rename(aside, dest)
		}
		return "", errors.Wrap(err, "install source tree")
	}
	if aside != "" {
		os.RemoveAll(aside)
	}
	return dest, nil
}

// Remove deletes a workload's installed source tree.
func (i *Ingestor) Remove(name string) error {
	if err := os.RemoveAll(i.appDir(name)); err != nil {
		return errors.Wrap(err, "remove source tree")
	}
	return nil
}

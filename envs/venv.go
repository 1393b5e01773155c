package envs

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/errors"
	"go.uber.org/zap"
)

// VenvProvider provisions Python virtual environments under the configured
// envs directory, one per workload, keyed by workload name.
type VenvProvider struct {
	root       string
	python     string
	pipTimeout time.Duration
	log        *zap.SugaredLogger
}

var _ Provider = (*VenvProvider)(nil)

func NewVenvProvider(cfg *config.Config, log *zap.SugaredLogger) *VenvProvider {
	return &VenvProvider{
		root:       cfg.EnvsDir(),
		python:     cfg.Envs.Python,
		pipTimeout: time.Duration(cfg.Envs.PipTimeoutSeconds) * time.Second,
		log:        log,
	}
}

func (p *VenvProvider) envDir(workloadName string) string {
	return filepath.Join(p.root, workloadName)
}

// Create builds a fresh virtual environment. An existing environment for the
// same workload is replaced.
func (p *VenvProvider) Create(ctx context.Context, workloadName string) error {
	dir := p.envDir(workloadName)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(errors.ErrProvisioning, "clear previous environment: %v", err)
	}
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return errors.Wrapf(errors.ErrProvisioning, "create envs dir: %v", err)
	}

	p.log.Infow("creating virtual environment", "workload", workloadName, "dir", dir)
	if out, err := p.run(ctx, p.pipTimeout, p.python, "-m", "venv", dir); err != nil {
		return errors.Wrapf(errors.ErrProvisioning, "venv create failed: %v: %s", err, out)
	}
	return nil
}

// InstallDependencies runs pip against the environment's interpreter so
// packages land inside the venv rather than the system site-packages.
func (p *VenvProvider) InstallDependencies(ctx context.Context, workloadName, manifestPath string) error {
	if _, err := os.Stat(manifestPath); err != nil {
		if os.IsNotExist(err) {
			p.log.Debugw("no dependency manifest, skipping install", "workload", workloadName)
			return nil
		}
		return errors.Wrapf(errors.ErrProvisioning, "stat manifest: %v", err)
	}

	python := p.RuntimePath(workloadName)
	p.log.Infow("installing dependencies", "workload", workloadName, "manifest", manifestPath)
	if out, err := p.run(ctx, p.pipTimeout, python, "-m", "pip", "install", "-r", manifestPath); err != nil {
		return errors.Wrapf(errors.ErrProvisioning, "pip install failed: %v: %s", err, out)
	}
	return nil
}

func (p *VenvProvider) Remove(workloadName string) error {
	if err := os.RemoveAll(p.envDir(workloadName)); err != nil {
		return errors.Wrapf(errors.ErrProvisioning, "remove environment: %v", err)
	}
	return nil
}

// RuntimePath returns the venv's python binary. Callers should pair this
// with Exists; the path is returned even when the environment is missing so
// error messages can name it.
func (p *VenvProvider) RuntimePath(workloadName string) string {
	return filepath.Join(p.envDir(workloadName), "bin", "python")
}

func (p *VenvProvider) Exists(workloadName string) bool {
	info, err := os.Stat(p.RuntimePath(workloadName))
	return err == nil && !info.IsDir()
}

func (p *VenvProvider) run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		err = errors.Wrap(errors.ErrTimeout, "command timed out")
	}
	return buf.String(), err
}

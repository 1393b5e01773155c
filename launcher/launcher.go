// Package launcher resolves and spawns workload processes. It is the only
// package that execs workload code; supervision and scheduling both build
// on it.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/kballard/go-shellquote"
	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/envs"
	"github.com/mantyx/mantyx/errors"
	"github.com/mantyx/mantyx/logger"
	"github.com/mantyx/mantyx/workload"
	"go.uber.org/zap"
)

type Launcher struct {
	appsDir string
	envs    envs.Provider
	paths   *logger.PathAllocator
	log     *zap.SugaredLogger
}

func New(cfg *config.Config, provider envs.Provider, log *zap.SugaredLogger) *Launcher {
	return &Launcher{
		appsDir: cfg.AppsDir(),
		envs:    provider,
		paths:   &logger.PathAllocator{Root: cfg.LogsDir()},
		log:     log,
	}
}

// Command is a fully resolved launch plan for a workload: interpreter,
// entrypoint, argv and environment, ready to exec.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Resolve builds the launch plan and verifies everything it references
// exists on disk. Failures are ErrLaunch so callers can distinguish a
// launch-time fault from a lifecycle rule violation.
func (l *Launcher) Resolve(w *workload.Workload) (*Command, error) {
	appDir := filepath.Join(l.appsDir, w.Name)
	entry := filepath.Join(appDir, w.Entrypoint)
	if _, err := os.Stat(entry); err != nil {
		return nil, errors.Wrapf(errors.ErrLaunch, "entrypoint %s not found", w.Entrypoint)
	}
	if !l.envs.Exists(w.Name) {
		return nil, errors.Wrapf(errors.ErrLaunch, "environment for %s is missing, reinstall the workload", w.Name)
	}
	python := l.envs.RuntimePath(w.Name)

	extra, err := shellquote.Split(w.Args)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrLaunch, "parse args: %v", err)
	}

	env := os.Environ()
	for k, v := range w.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	return &Command{
		Path: python,
		Args: append([]string{python, entry}, extra...),
		Dir:  appDir,
		Env:  env,
	}, nil
}

// Process is a spawned workload process together with its captured output
// destinations. Wait reaps the process exactly once and releases the log
// file handles.
type Process struct {
	cmd        *exec.Cmd
	StdoutPath string
	StderrPath string

	waitOnce sync.Once
	waitErr  error
	stdout   *os.File
	stderr   *os.File
}

func (p *Process) PID() int { return p.cmd.Process.Pid }

// Wait blocks until the process exits and returns its wait error. Safe to
// call from multiple goroutines; the underlying wait happens once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		p.stdout.Close()
		p.stderr.Close()
	})
	return p.waitErr
}

// ExitCode returns the exit code after Wait has completed, or -1 when the
// process was killed by a signal.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Kill delivers SIGKILL to the process.
func (p *Process) Kill() error {
	return p.cmd.Process.Kill()
}

// Spawn starts the workload in its own session so that signals delivered to
// the daemon do not propagate to workloads, and so a stop can target the
// whole process group. Output streams are redirected to per-execution log
// files.
func (l *Launcher) Spawn(w *workload.Workload, executionID string) (*Process, error) {
	plan, err := l.Resolve(w)
	if err != nil {
		return nil, err
	}

	stdoutPath, stderrPath, err := l.paths.ExecutionLogPaths(w.Name, executionID)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrLaunch, "allocate log paths: %v", err)
	}
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrLaunch, "open stdout log: %v", err)
	}
	stderr, err := os.Create(stderrPath)
	if err != nil {
		stdout.Close()
		return nil, errors.Wrapf(errors.ErrLaunch, "open stderr log: %v", err)
	}

	cmd := exec.Command(plan.Path, plan.Args[1:]...)
	cmd.Dir = plan.Dir
	cmd.Env = plan.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, errors.Wrapf(errors.ErrLaunch, "start %s: %v", w.Name, err)
	}

	l.log.Infow("spawned workload process",
		"workload", w.Name, "pid", cmd.Process.Pid, "execution", executionID)

	return &Process{
		cmd:        cmd,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
		stdout:     stdout,
		stderr:     stderr,
	}, nil
}

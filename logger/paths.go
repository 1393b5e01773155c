package logger

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathAllocator hands out per-execution stdout/stderr log file locations
// under a fixed root directory. The supervisor and trigger engine both use
// it when spawning workload processes.
type PathAllocator struct {
	Root string // base directory for workload logs
}

// NewPathAllocator creates an allocator rooted at dir.
func NewPathAllocator(dir string) *PathAllocator {
	return &PathAllocator{Root: dir}
}

// ExecutionLogPaths returns the stdout and stderr file paths for one
// execution of a workload, creating parent directories as needed.
// Layout: <root>/<workload>/<execution-id>.{out,err}
func (a *PathAllocator) ExecutionLogPaths(workloadName, executionID string) (stdoutPath, stderrPath string, err error) {
	dir := filepath.Join(a.Root, workloadName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	stdoutPath = filepath.Join(dir, executionID+".out")
	stderrPath = filepath.Join(dir, executionID+".err")
	return stdoutPath, stderrPath, nil
}

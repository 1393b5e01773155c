//go:build unix

package launcher

import (
	"os/exec"
	"syscall"
)

// detach places the child in its own session so terminal signals aimed at
// the daemon never reach workloads.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

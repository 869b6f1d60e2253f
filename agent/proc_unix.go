//go:build unix

package agent

import (
	"os/exec"
	"syscall"
)

// configureTermination runs the CLI in its own process group so that SIGTERM
// reaches the helpers it spawns as well.
func configureTermination(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
}

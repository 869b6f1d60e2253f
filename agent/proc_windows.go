//go:build windows

package agent

import "os/exec"

func configureTermination(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
}

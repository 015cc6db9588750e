//go:build !windows

package install

import (
	"os/exec"
	"syscall"
)

// The installer gets its own process group so a terminal interrupt aimed at
// this process does not tear down a half-finished install.
func configureInstallerProcess(cmd *exec.Cmd, _ bool) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

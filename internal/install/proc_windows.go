//go:build windows

package install

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// Native installers keep their own UI; only interpreter runs are hidden.
func configureInstallerProcess(cmd *exec.Cmd, hidden bool) {
	if !hidden {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
}

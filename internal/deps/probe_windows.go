//go:build windows

package deps

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

func configureProbeProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
}

//go:build !windows

package deps

import "os/exec"

func configureProbeProcess(cmd *exec.Cmd) {}

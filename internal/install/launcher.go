package install

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// LineFunc receives one line of installer output; stream is "stdout" or "stderr".
type LineFunc func(stream, line string)

// Launcher runs an installer artifact and blocks until it exits.
type Launcher interface {
	Launch(path string, onLine LineFunc) (exitCode int, err error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(path string, onLine LineFunc) (int, error)

func (f LauncherFunc) Launch(path string, onLine LineFunc) (int, error) { return f(path, onLine) }

// DefaultInterpreters maps script extensions to their interpreter command line.
// The script path is appended as the last argument.
func DefaultInterpreters() map[string][]string {
	ps := "pwsh"
	if runtime.GOOS == "windows" {
		ps = "powershell.exe"
	}
	return map[string][]string{
		".ps1": {ps, "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Unrestricted", "-File"},
		".sh":  {"/bin/sh"},
	}
}

// ProcessLauncher starts scripts through a fixed interpreter without a visible
// window and everything else as a native executable. There is no kill path:
// a hung installer is left for the operator to terminate.
type ProcessLauncher struct {
	Interpreters map[string][]string
	Dir          string
}

func NewProcessLauncher(interpreters map[string][]string) *ProcessLauncher {
	if len(interpreters) == 0 {
		interpreters = DefaultInterpreters()
	}
	return &ProcessLauncher{Interpreters: interpreters}
}

// IsScript reports whether path is launched through an interpreter.
func (l *ProcessLauncher) IsScript(path string) bool {
	_, ok := l.Interpreters[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (l *ProcessLauncher) command(path string) (*exec.Cmd, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, fmt.Errorf("resolve %s: %w", path, err)
	}
	if argv, ok := l.Interpreters[strings.ToLower(filepath.Ext(abs))]; ok && len(argv) > 0 {
		args := append(append([]string(nil), argv[1:]...), abs)
		return exec.Command(argv[0], args...), true, nil
	}
	return exec.Command(abs), false, nil
}

func (l *ProcessLauncher) Launch(path string, onLine LineFunc) (int, error) {
	cmd, script, err := l.command(path)
	if err != nil {
		return -1, err
	}
	if l.Dir != "" {
		cmd.Dir = l.Dir
	}
	configureInstallerProcess(cmd, script)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", filepath.Base(path), err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(&wg, stdout, "stdout", onLine)
	go scanLines(&wg, stderr, "stderr", onLine)
	wg.Wait()

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), fmt.Errorf("%s exited with code %d", filepath.Base(path), exitErr.ExitCode())
	}
	return -1, err
}

func scanLines(wg *sync.WaitGroup, r io.Reader, stream string, onLine LineFunc) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if onLine != nil {
			onLine(stream, sc.Text())
		}
	}
	// Drain whatever a too-long line left behind so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

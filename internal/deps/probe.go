package deps

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// notFoundMarker guards against probe failure text that shares a prefix with a
// real version banner (e.g. "Python was not found; run without arguments...").
const notFoundMarker = "not found"

// RunFunc executes name with args and returns its captured output.
type RunFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

type probeResult struct {
	line string
	ok   bool
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	VersionFlag string
	CacheSize   int
	CacheTTL    time.Duration
	Run         RunFunc
}

// Prober invokes external commands to read back their reported version.
type Prober struct {
	flag  string
	run   RunFunc
	cache *expirable.LRU[string, probeResult]
}

func NewProber(cfg ProberConfig) *Prober {
	if strings.TrimSpace(cfg.VersionFlag) == "" {
		cfg.VersionFlag = "--version"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 32
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.Run == nil {
		cfg.Run = runCommand
	}
	return &Prober{
		flag:  cfg.VersionFlag,
		run:   cfg.Run,
		cache: expirable.NewLRU[string, probeResult](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Probe runs command with the version flag and returns the first output line.
// ok is false, with a nil error, when the executable cannot be located.
func (p *Prober) Probe(ctx context.Context, command string) (string, bool, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", false, nil
	}
	if hit, ok := p.cache.Get(command); ok {
		return hit.line, hit.ok, nil
	}

	stdout, stderr, err := p.run(ctx, command, p.flag)
	if err != nil {
		if isNotFound(err) {
			p.cache.Add(command, probeResult{})
			return "", false, nil
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", false, err
		}
		// Non-zero exit still carries a banner worth inspecting.
	}

	line := firstLine(stdout)
	if line == "" {
		line = firstLine(stderr)
	}
	p.cache.Add(command, probeResult{line: line, ok: true})
	return line, true, nil
}

// Forget drops a cached probe result so the next Probe re-runs the command.
func (p *Prober) Forget(command string) {
	p.cache.Remove(strings.TrimSpace(command))
}

// InstalledVersion probes command and parses its version.
func (p *Prober) InstalledVersion(ctx context.Context, command string) (Version, bool, error) {
	line, ok, err := p.Probe(ctx, command)
	if err != nil || !ok {
		return Version{}, false, err
	}
	if line == "" || strings.Contains(strings.ToLower(line), notFoundMarker) {
		return Version{}, false, nil
	}
	v, err := ExtractVersion(line)
	if err != nil {
		return Version{}, false, err
	}
	return v, true, nil
}

// IsSatisfied reports whether the descriptor's command is present at the
// required (major, minor) or newer. Unparseable output is a hard error.
func (p *Prober) IsSatisfied(ctx context.Context, d Descriptor) (bool, error) {
	v, ok, err := p.InstalledVersion(ctx, d.Name)
	if err != nil || !ok {
		return false, err
	}
	return v.AtLeast(d.Required()), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	configureProbeProcess(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

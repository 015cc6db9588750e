package setup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/ent0n29/ttsprep/internal/connectivity"
	"github.com/ent0n29/ttsprep/internal/deps"
	"github.com/ent0n29/ttsprep/internal/download"
	"github.com/ent0n29/ttsprep/internal/install"
	"github.com/ent0n29/ttsprep/internal/versions"
)

const pythonPathNotice = "Please enable 'Add Python to PATH' in the installer."

// Kind describes how a component's presence is established.
type Kind string

const (
	// KindTool is an executable probed for its reported version.
	KindTool Kind = "tool"
	// KindEnvironment is a directory created by an install script, tracked in the version record.
	KindEnvironment Kind = "environment"
	// KindArtifact is a downloaded file with an optional checksum, tracked in the version record.
	KindArtifact Kind = "artifact"
)

// plan is the fixed install order of the toolchain.
var plan = []struct {
	key  string
	kind Kind
}{
	{deps.KeyPython, KindTool},
	{deps.KeyPyDependencies, KindEnvironment},
	{deps.KeyModel, KindArtifact},
}

// Paths locates the toolchain on disk.
type Paths struct {
	TempDir       string
	VenvDir       string
	ModelDir      string
	InstallScript string
	PythonCommand string
}

// ComponentStatus is the check result of one component.
type ComponentStatus struct {
	Key       string `json:"key"`
	Kind      Kind   `json:"kind"`
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
	Required  string `json:"required"`
	Detail    string `json:"detail,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
}

// Report is the outcome of one Check.
type Report struct {
	CheckedAt  time.Time         `json:"checked_at"`
	Ready      bool              `json:"ready"`
	Components []ComponentStatus `json:"components"`
}

// Missing returns the keys of components that are not installed.
func (r Report) Missing() []string {
	var out []string
	for _, c := range r.Components {
		if !c.Installed {
			out = append(out, c.Key)
		}
	}
	return out
}

// ProbeObserver receives per-component check results.
type ProbeObserver interface {
	ObserveProbe(key, result string)
	ObserveStage(key, stage string, d time.Duration)
}

type Config struct {
	Manifest     *deps.ManifestSource
	Prober       *deps.Prober
	Versions     versions.Store
	Orchestrator *install.Orchestrator
	Decider      Decider
	Paths        Paths
	Observer     ProbeObserver
}

// Planner turns the manifest into install tasks for whatever is missing and
// verifies each component after its installer ran.
type Planner struct {
	manifest *deps.ManifestSource
	prober   *deps.Prober
	versions versions.Store
	orch     *install.Orchestrator
	decider  Decider
	paths    Paths
	observer ProbeObserver

	mu   sync.RWMutex
	last Report
}

func NewPlanner(cfg Config) (*Planner, error) {
	if cfg.Manifest == nil || cfg.Prober == nil || cfg.Versions == nil || cfg.Orchestrator == nil {
		return nil, errors.New("setup planner requires manifest, prober, version store and orchestrator")
	}
	if cfg.Decider == nil {
		cfg.Decider = StaticDecider{Decision: install.Abort}
	}
	return &Planner{
		manifest: cfg.Manifest,
		prober:   cfg.Prober,
		versions: cfg.Versions,
		orch:     cfg.Orchestrator,
		decider:  cfg.Decider,
		paths:    cfg.Paths,
		observer: cfg.Observer,
	}, nil
}

// Last returns the most recent report.
func (p *Planner) Last() Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Versions lists every recorded dependency version.
func (p *Planner) Versions(ctx context.Context) ([]versions.Record, error) {
	return p.versions.All(ctx)
}

// Check evaluates every planned component against the manifest in effect.
func (p *Planner) Check(ctx context.Context) (Report, error) {
	start := time.Now()
	m, err := p.manifest.Load(ctx)
	if m == nil {
		if err == nil {
			err = deps.ErrNoManifest
		}
		return Report{}, err
	}
	if err != nil {
		log.Printf("setup: %v", err)
	}

	report := Report{CheckedAt: time.Now().UTC(), Ready: true}
	for _, step := range plan {
		d, ok := m.Get(step.key)
		if !ok {
			continue
		}
		status, err := p.evaluate(ctx, step.kind, d)
		if err != nil {
			p.observeProbe(step.key, "error")
			return Report{}, fmt.Errorf("check %s: %w", step.key, err)
		}
		status.Queued = !status.Installed && p.orch.IsQueued(step.key)
		if !status.Installed {
			report.Ready = false
		}
		p.observeProbe(step.key, installedLabel(status.Installed))
		report.Components = append(report.Components, status)
	}
	if p.observer != nil {
		p.observer.ObserveStage("all", "check", time.Since(start))
	}

	p.mu.Lock()
	p.last = report
	p.mu.Unlock()
	return report, nil
}

// Ensure checks and queues an install task for each missing component, then
// starts the worker. started is false when nothing is missing or a run is
// already in progress.
func (p *Planner) Ensure(ctx context.Context) (bool, error) {
	report, err := p.Check(ctx)
	if err != nil {
		return false, err
	}
	if report.Ready {
		return false, nil
	}
	m := p.manifest.Current()
	for _, c := range report.Components {
		if c.Installed {
			continue
		}
		d, _ := m.Get(c.Key)
		if p.orch.QueueInstall(c.Key, p.taskFor(c.Kind, d)) {
			log.Printf("setup: queued %s", c.Key)
		}
	}
	return p.orch.InstallAll(ctx), nil
}

// WatchConnection re-runs the setup flow whenever the monitor reports a
// reestablished connection and fetches the manifest on the first successful
// check. Call the returned func to detach.
func (p *Planner) WatchConnection(ctx context.Context, monitor *connectivity.Monitor, autoEnsure bool) func() {
	var fetched sync.Once
	return monitor.Subscribe(func(status connectivity.Status) {
		switch status {
		case connectivity.StatusConnected:
			fetched.Do(func() {
				go func() {
					if _, err := p.manifest.Refresh(ctx); err != nil {
						log.Printf("setup: %v", err)
					}
				}()
			})
		case connectivity.StatusReestablished:
			go p.resync(ctx, autoEnsure)
		}
	})
}

func (p *Planner) resync(ctx context.Context, autoEnsure bool) {
	if _, err := p.manifest.Refresh(ctx); err != nil {
		log.Printf("setup: %v", err)
	}
	if !autoEnsure {
		if _, err := p.Check(ctx); err != nil {
			log.Printf("setup: check after reconnect: %v", err)
		}
		return
	}
	if _, err := p.Ensure(ctx); err != nil {
		log.Printf("setup: ensure after reconnect: %v", err)
	}
}

func (p *Planner) evaluate(ctx context.Context, kind Kind, d deps.Descriptor) (ComponentStatus, error) {
	status := ComponentStatus{
		Key:      d.Key,
		Kind:     kind,
		Name:     d.Name,
		Required: d.Required().String(),
	}
	switch kind {
	case KindTool:
		v, ok, err := p.prober.InstalledVersion(ctx, p.command(d))
		if err != nil {
			return status, err
		}
		if !ok {
			status.Detail = "not installed"
			return status, nil
		}
		status.Version = v.String()
		status.Installed = v.AtLeast(d.Required())
		if !status.Installed {
			status.Detail = "outdated"
		}
	case KindEnvironment:
		if !dirExists(p.paths.VenvDir) {
			status.Detail = "environment missing"
			return status, nil
		}
		return p.recorded(ctx, status, d)
	case KindArtifact:
		target := filepath.Join(p.paths.ModelDir, d.Name)
		if !fileExists(target) {
			status.Detail = "artifact missing"
			return status, nil
		}
		if d.HasChecksum() {
			ok, err := deps.CheckIntegrity(target, d.Checksum)
			if err != nil {
				return status, err
			}
			if !ok {
				status.Detail = "checksum mismatch"
				return status, nil
			}
		}
		return p.recorded(ctx, status, d)
	}
	return status, nil
}

func (p *Planner) recorded(ctx context.Context, status ComponentStatus, d deps.Descriptor) (ComponentStatus, error) {
	rec, ok, err := versions.Meets(ctx, p.versions, d.Key, d.VersionMajor)
	if errors.Is(err, versions.ErrNotFound) {
		status.Detail = "no recorded version"
		return status, nil
	}
	if err != nil {
		return status, err
	}
	status.Version = fmt.Sprintf("%d", rec.Major)
	status.Installed = ok
	if !ok {
		status.Detail = "outdated"
	}
	return status, nil
}

func (p *Planner) command(d deps.Descriptor) string {
	if d.Key == deps.KeyPython && p.paths.PythonCommand != "" {
		return p.paths.PythonCommand
	}
	return d.Name
}

func (p *Planner) taskFor(kind Kind, d deps.Descriptor) install.Task {
	switch kind {
	case KindTool:
		return install.Task{
			SourceURL:   d.URL,
			Destination: filepath.Join(p.paths.TempDir, installerName(d.URL, "pythonInstall")),
			Checksum:    d.Checksum,
			Strategy:    download.KindDirect,
			Mode:        install.ModeExecute,
			PreInstall: func() {
				p.orch.Publish(install.Event{Type: install.EventNotice, Key: d.Key, Detail: pythonPathNotice})
			},
			PostInstall: func(ctx context.Context, out install.Outcome) install.Decision {
				cmd := p.command(d)
				p.prober.Forget(cmd)
				ok, err := p.prober.IsSatisfied(ctx, deps.Descriptor{Key: d.Key, Name: cmd, VersionMajor: d.VersionMajor, VersionMinor: d.VersionMinor})
				if err == nil && ok {
					p.record(ctx, d)
					return install.Continue
				}
				if err != nil {
					log.Printf("setup: verify %s: %v", d.Key, err)
				}
				return p.decide(ctx, out, "installed version not detected")
			},
		}
	case KindEnvironment:
		task := install.Task{
			Destination: p.paths.InstallScript,
			TargetDir:   p.paths.VenvDir,
			Checksum:    d.Checksum,
			Strategy:    download.KindDirect,
			Mode:        install.ModeExecute,
		}
		if d.URL != "" {
			task.SourceURL = d.URL
			task.Destination = filepath.Join(p.paths.TempDir, filepath.Base(p.paths.InstallScript))
		}
		task.PostInstall = func(ctx context.Context, out install.Outcome) install.Decision {
			if out.OK() && dirExists(p.paths.VenvDir) {
				p.record(ctx, d)
				return install.Continue
			}
			return p.decide(ctx, out, "environment not created")
		}
		return task
	default:
		return install.Task{
			SourceURL:   d.URL,
			Destination: filepath.Join(p.paths.TempDir, d.Name),
			TargetDir:   p.paths.ModelDir,
			Checksum:    d.Checksum,
			Strategy:    download.KindLargeFile,
			Mode:        install.ModePlace,
			PostInstall: func(ctx context.Context, out install.Outcome) install.Decision {
				if out.OK() {
					ok := true
					if d.HasChecksum() {
						var err error
						ok, err = deps.CheckIntegrity(out.InstalledPath, d.Checksum)
						if err != nil {
							log.Printf("setup: verify %s: %v", d.Key, err)
						}
					}
					if ok {
						p.record(ctx, d)
						return install.Continue
					}
				}
				return p.decide(ctx, out, "artifact not verified")
			},
		}
	}
}

func (p *Planner) decide(ctx context.Context, out install.Outcome, reason string) install.Decision {
	if out.Err == nil {
		out.Err = errors.New(reason)
	}
	decision := p.decider.Decide(ctx, out.Key, out)
	log.Printf("setup: %s failed verification (attempt %d): %v; %s", out.Key, out.Attempt, out.Err, decision)
	return decision
}

func (p *Planner) record(ctx context.Context, d deps.Descriptor) {
	if err := p.versions.Set(ctx, d.Key, d.VersionMajor); err != nil {
		log.Printf("setup: record version of %s: %v", d.Key, err)
	}
}

func (p *Planner) observeProbe(key, result string) {
	if p.observer != nil {
		p.observer.ObserveProbe(key, result)
	}
}

func installerName(rawURL, fallback string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return fallback + ext
		}
	}
	return fallback + ".exe"
}

func installedLabel(ok bool) string {
	if ok {
		return "installed"
	}
	return "missing"
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/ttsprep/internal/deps"
	"github.com/ent0n29/ttsprep/internal/download"
	"github.com/ent0n29/ttsprep/internal/policy"
)

// Downloader is the part of download.Engine the worker needs.
type Downloader interface {
	Strategy(kind string) download.Strategy
	CancelAll() bool
}

// Observer receives install metrics.
type Observer interface {
	ObserveInstall(key, outcome string)
	ObserveStage(key, stage string, d time.Duration)
	SetQueueDepth(n int)
}

type Config struct {
	Downloader Downloader
	Launcher   Launcher
	Observer   Observer
	Bus        *Bus
}

// Orchestrator drains the install queue with a single worker:
// download, install, verify, next.
type Orchestrator struct {
	queue      *Queue
	downloader Downloader
	launcher   Launcher
	observer   Observer
	bus        *Bus

	running atomic.Bool

	mu      sync.Mutex
	runDone chan struct{}
	runID   string
	lastRun RunResult
	states  map[string]State
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Launcher == nil {
		cfg.Launcher = NewProcessLauncher(nil)
	}
	if cfg.Bus == nil {
		cfg.Bus = NewBus()
	}
	return &Orchestrator{
		queue:      NewQueue(),
		downloader: cfg.Downloader,
		launcher:   cfg.Launcher,
		observer:   cfg.Observer,
		bus:        cfg.Bus,
		states:     make(map[string]State),
	}
}

// QueueInstall enqueues task under key unless key is already queued.
func (o *Orchestrator) QueueInstall(key string, task Task) bool {
	added := o.queue.Add(key, task)
	if added {
		o.setState("", key, StateQueued, 0, "")
		o.reportDepth()
	}
	return added
}

// Queued returns pending keys in processing order.
func (o *Orchestrator) Queued() []string { return o.queue.Keys() }

// IsQueued reports whether key is waiting in the install queue.
func (o *Orchestrator) IsQueued(key string) bool { return o.queue.Contains(key) }

// State returns the last known state of key.
func (o *Orchestrator) State(key string) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[key]
	return s, ok
}

// States returns a copy of the last known state per key.
func (o *Orchestrator) States() map[string]State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]State, len(o.states))
	for k, v := range o.states {
		out[k] = v
	}
	return out
}

// Running reports whether a worker is active.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Subscribe exposes the orchestrator's event stream.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) { return o.bus.Subscribe() }

// Publish lets collaborators (hooks, deciders) emit events on the same stream.
func (o *Orchestrator) Publish(evt Event) Event {
	o.mu.Lock()
	if evt.RunID == "" {
		evt.RunID = o.runID
	}
	o.mu.Unlock()
	return o.bus.Publish(scrub(evt))
}

// Bus returns the event bus.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// CancelDownloads aborts the transfers currently tracked by the download engine.
func (o *Orchestrator) CancelDownloads() bool {
	if o.downloader == nil {
		return false
	}
	return o.downloader.CancelAll()
}

// InstallAll starts the worker unless one is already running, in which case it
// returns false immediately and the caller shares the in-flight run.
func (o *Orchestrator) InstallAll(ctx context.Context) bool {
	// runDone must be published together with the flag so a caller that loses
	// the swap always waits on the in-flight run.
	o.mu.Lock()
	if !o.running.CompareAndSwap(false, true) {
		o.mu.Unlock()
		return false
	}
	runID := uuid.NewString()
	done := make(chan struct{})
	o.runDone = done
	o.runID = runID
	o.mu.Unlock()

	go o.supervise(ctx, runID, done)
	return true
}

// Wait blocks until the current (or last) run has finished and returns its result.
func (o *Orchestrator) Wait(ctx context.Context) (RunResult, error) {
	o.mu.Lock()
	done := o.runDone
	o.mu.Unlock()
	if done != nil {
		select {
		case <-ctx.Done():
			return RunResult{}, ctx.Err()
		case <-done:
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRun, nil
}

// LastRun returns the result of the most recently finished run.
func (o *Orchestrator) LastRun() RunResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRun
}

// supervise owns the worker goroutine: it converts a hook panic into a failed
// run and always releases the single-flight flag.
func (o *Orchestrator) supervise(ctx context.Context, runID string, done chan struct{}) {
	result := RunResult{RunID: runID, StartedAt: time.Now().UTC()}
	var currentKey string

	defer func() {
		if r := recover(); r != nil {
			result.Status = RunFailed
			result.Err = &HookPanicError{Key: currentKey, Value: r}
			log.Printf("install: run %s failed: %v", runID, result.Err)
			o.publish(Event{RunID: runID, Type: EventRunFailed, Key: currentKey, Error: result.Err.Error()})
		}
		result.EndedAt = time.Now().UTC()
		o.mu.Lock()
		o.lastRun = result
		o.mu.Unlock()
		o.running.Store(false)
		close(done)
	}()

	o.publish(Event{RunID: runID, Type: EventRunStarted, Detail: fmt.Sprintf("%d task(s) queued", o.queue.Len())})
	o.work(ctx, runID, &result, &currentKey)
}

func (o *Orchestrator) work(ctx context.Context, runID string, result *RunResult, currentKey *string) {
	attempts := make(map[string]int)
	for {
		if err := ctx.Err(); err != nil {
			result.Status = RunCancelled
			result.Err = err
			o.publish(Event{RunID: runID, Type: EventRunCancelled, Error: err.Error()})
			return
		}
		key, task, ok := o.queue.Peek()
		if !ok {
			break
		}
		*currentKey = key
		attempts[key]++

		out := o.runTask(ctx, runID, task, attempts[key])

		o.setState(runID, key, StateVerifying, 0, "")
		verifyStart := time.Now()
		decision := decide(ctx, task, out)
		o.observeStage(key, "verify", time.Since(verifyStart))

		switch decision {
		case Retry:
			o.setState(runID, key, StateRetrying, 0, errText(out.Err))
			o.observeInstall(key, "retry")
			o.prepareRetry(task)
			continue
		case Abort:
			o.setState(runID, key, StateAborted, 0, errText(out.Err))
			o.observeInstall(key, "aborted")
			result.Status = RunAborted
			result.AbortedKey = key
			result.Err = ErrAborted
			o.publish(Event{RunID: runID, Type: EventRunAborted, Key: key, Error: errText(out.Err)})
			log.Printf("install: run %s aborted at %s", runID, key)
			return
		default:
			o.setState(runID, key, StateCompleted, 100, errText(out.Err))
			o.observeInstall(key, "completed")
			o.queue.Remove(key)
			o.reportDepth()
			result.Completed = append(result.Completed, key)
		}
	}

	result.Status = RunCompleted
	o.publish(Event{RunID: runID, Type: EventRunCompleted, Detail: strings.Join(result.Completed, ",")})
}

func decide(ctx context.Context, task Task, out Outcome) Decision {
	if task.PostInstall == nil {
		if out.OK() {
			return Continue
		}
		return Abort
	}
	return task.PostInstall(ctx, out)
}

// runTask performs download (or reuse) and installation for one task.
func (o *Orchestrator) runTask(ctx context.Context, runID string, task Task, attempt int) Outcome {
	out := Outcome{Key: task.Key, Attempt: attempt, ExitCode: -1}

	reusable, err := artifactReusable(task)
	if err != nil {
		out.Err = err
		return out
	}

	switch {
	case reusable:
		out.Reused = true
		o.setState(runID, task.Key, StateInstalling, 100, "artifact already present")
		if task.OnProgress != nil {
			task.OnProgress(download.Progress{Percent: 100})
		}
	case strings.TrimSpace(task.SourceURL) == "":
		out.Err = fmt.Errorf("%w: %s", ErrArtifactMissing, task.Destination)
		return out
	default:
		res := o.download(ctx, runID, task)
		out.Download = &res
		if !res.OK() {
			out.Err = res.Err
			return out
		}
		if task.Checksum != "" {
			ok, err := deps.CheckIntegrity(task.Destination, task.Checksum)
			if err != nil || !ok {
				_ = os.Remove(task.Destination)
				out.Err = ErrIntegrityMismatch
				if err != nil {
					out.Err = fmt.Errorf("%w: %v", ErrIntegrityMismatch, err)
				}
				return out
			}
		}
	}

	if task.PreInstall != nil {
		task.PreInstall()
	}

	o.setState(runID, task.Key, StateInstalling, 100, "")
	installStart := time.Now()
	if task.Mode == ModePlace {
		out.InstalledPath, out.Err = placeArtifact(task.Destination, task.TargetDir)
		out.ExitCode = 0
		if out.Err != nil {
			out.ExitCode = -1
		}
	} else {
		out.ExitCode, out.Err = o.launcher.Launch(task.Destination, func(stream, line string) {
			log.Printf("install: %s [%s] %s", task.Key, stream, line)
			o.publish(Event{RunID: runID, Type: EventTaskLog, Key: task.Key, Stream: stream, Detail: line})
		})
		out.InstalledPath = task.TargetDir
	}
	o.observeStage(task.Key, "install", time.Since(installStart))
	return out
}

func (o *Orchestrator) download(ctx context.Context, runID string, task Task) download.Result {
	if o.downloader == nil {
		return download.Result{Outcome: download.OutcomeFailed, Err: errors.New("no downloader configured")}
	}
	o.setState(runID, task.Key, StateDownloading, 0, "")
	start := time.Now()

	// Progress is handed over to this goroutine so task hooks run under the
	// supervisor. stop releases the transfer if a hook panics mid-download.
	progress := make(chan download.Progress)
	stop := make(chan struct{})
	defer close(stop)
	transfer := o.downloader.Strategy(task.Strategy).Start(ctx, download.Request{
		URL:  task.SourceURL,
		Dest: task.Destination,
		OnProgress: func(p download.Progress) {
			select {
			case progress <- p:
			case <-stop:
			}
		},
	})
	for finished := false; !finished; {
		select {
		case p := <-progress:
			if task.OnProgress != nil {
				task.OnProgress(p)
			}
			o.publish(Event{RunID: runID, Type: EventTaskProgress, Key: task.Key, State: StateDownloading, Percent: p.Percent})
		case <-transfer.Done():
			finished = true
		}
	}
	res := transfer.Wait()
	o.observeStage(task.Key, "download", time.Since(start))
	return res
}

// artifactReusable reports whether the destination can be installed without a
// fresh download. An artifact failing its declared checksum is deleted.
func artifactReusable(task Task) (bool, error) {
	_ = os.Remove(task.Destination + ".part")
	info, err := os.Stat(task.Destination)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return true, nil
	}
	if task.Checksum == "" {
		return true, nil
	}
	ok, err := deps.CheckIntegrity(task.Destination, task.Checksum)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("install: %s: %v, discarding %s", task.Key, ErrIntegrityMismatch, task.Destination)
		if err := os.Remove(task.Destination); err != nil {
			return false, fmt.Errorf("discard stale artifact: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// prepareRetry discards an artifact a retry must not trust. With a declared
// checksum the file is kept only if it still matches; without one it is always
// fetched again. Artifacts with no source URL are left alone.
func (o *Orchestrator) prepareRetry(task Task) {
	if strings.TrimSpace(task.SourceURL) == "" {
		return
	}
	if task.Checksum != "" {
		if ok, err := deps.CheckIntegrity(task.Destination, task.Checksum); err == nil && ok {
			return
		}
	}
	if err := os.Remove(task.Destination); err != nil && !os.IsNotExist(err) {
		log.Printf("install: %s: discard artifact before retry: %v", task.Key, err)
	}
}

func placeArtifact(src, targetDir string) (string, error) {
	if strings.TrimSpace(targetDir) == "" {
		return "", errors.New("place mode requires a target directory")
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	dest := filepath.Join(targetDir, filepath.Base(src))
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("replace %s: %w", dest, err)
	}
	if err := os.Rename(src, dest); err == nil {
		return dest, nil
	}
	if err := copyFile(src, dest); err != nil {
		return "", err
	}
	_ = os.Remove(src)
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func (o *Orchestrator) setState(runID, key string, state State, percent int, detail string) {
	o.mu.Lock()
	o.states[key] = state
	o.mu.Unlock()
	o.publish(Event{RunID: runID, Type: EventTaskState, Key: key, State: state, Percent: percent, Detail: detail})
}

func (o *Orchestrator) publish(evt Event) {
	o.bus.Publish(scrub(evt))
}

// scrub keeps credentials in installer output and transfer errors off the
// event stream.
func scrub(evt Event) Event {
	evt.Detail = policy.Redact(evt.Detail)
	evt.Error = policy.Redact(evt.Error)
	return evt
}

func (o *Orchestrator) reportDepth() {
	if o.observer != nil {
		o.observer.SetQueueDepth(o.queue.Len())
	}
}

func (o *Orchestrator) observeInstall(key, outcome string) {
	if o.observer != nil {
		o.observer.ObserveInstall(key, outcome)
	}
}

func (o *Orchestrator) observeStage(key, stage string, d time.Duration) {
	if o.observer != nil {
		o.observer.ObserveStage(key, stage, d)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

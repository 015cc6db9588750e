package install

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/ttsprep/internal/download"
)

var (
	ErrIntegrityMismatch = errors.New("artifact checksum mismatch")
	ErrAborted           = errors.New("install batch aborted by post-install hook")
	ErrArtifactMissing   = errors.New("artifact missing and no source url")
)

// State is the per-task lifecycle position.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateInstalling  State = "installing"
	StateVerifying   State = "verifying"
	StateCompleted   State = "completed"
	StateRetrying    State = "retrying"
	StateAborted     State = "aborted"
)

// Decision is what a post-install hook wants the worker to do next.
type Decision int

const (
	Continue Decision = iota
	Retry
	Abort
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Retry:
		return "retry"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// ParseDecision accepts continue, retry and abort.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "continue":
		return Continue, nil
	case "retry":
		return Retry, nil
	case "abort":
		return Abort, nil
	default:
		return Abort, fmt.Errorf("unknown decision %q", s)
	}
}

// Mode selects how a fetched artifact is installed.
type Mode string

const (
	// ModeExecute launches the artifact (script through its interpreter, or a native executable).
	ModeExecute Mode = "execute"
	// ModePlace moves the verified artifact into TargetDir.
	ModePlace Mode = "place"
)

// Task is one pending installation unit. The queue owns it from enqueue to dequeue.
type Task struct {
	Key         string
	SourceURL   string
	Destination string
	TargetDir   string
	Checksum    string
	Strategy    string
	Mode        Mode

	// PreInstall runs right before launch. Panics are not recovered by the worker loop.
	PreInstall func()
	// PostInstall verifies the outcome and decides how the batch proceeds.
	// A nil hook continues on success and aborts on failure.
	PostInstall func(ctx context.Context, out Outcome) Decision
	// OnProgress receives download progress on the worker goroutine; a panic
	// fails the run like any other hook.
	OnProgress func(download.Progress)
}

// Outcome is what the worker hands to the post-install hook.
type Outcome struct {
	Key           string
	Attempt       int
	Reused        bool
	Download      *download.Result
	ExitCode      int
	InstalledPath string
	Err           error
}

// OK reports whether download and launch both succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// RunStatus is the terminal state of one InstallAll run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunResult summarises a worker run.
type RunResult struct {
	RunID      string    `json:"run_id"`
	Status     RunStatus `json:"status"`
	Completed  []string  `json:"completed,omitempty"`
	AbortedKey string    `json:"aborted_key,omitempty"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// HookPanicError carries a panic raised by a pre- or post-install hook out of
// the worker to its supervisor.
type HookPanicError struct {
	Key   string
	Value any
}

func (e *HookPanicError) Error() string {
	return fmt.Sprintf("install hook for %q panicked: %v", e.Key, e.Value)
}

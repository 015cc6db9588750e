package download

import (
	"context"
	"errors"
	"sync"
)

// Outcome is the terminal state of a transfer.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

var ErrCancelled = errors.New("download cancelled")

// Progress is one incremental progress report.
type Progress struct {
	Received int64 `json:"received"`
	Total    int64 `json:"total"`
	Percent  int   `json:"percent"`
}

// Request describes one artifact fetch.
type Request struct {
	URL        string
	Dest       string
	OnProgress func(Progress)
}

// Result is delivered once per transfer. Failures and cancellation are
// reported here and never raised across the async boundary.
type Result struct {
	Outcome Outcome
	Path    string
	Bytes   int64
	Err     error
}

func (r Result) OK() bool { return r.Outcome == OutcomeCompleted }

// Transfer is an in-flight download.
type Transfer struct {
	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

func newTransfer(cancel context.CancelFunc) *Transfer {
	return &Transfer{cancel: cancel, done: make(chan struct{})}
}

// Done closes when the transfer has a final Result.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Wait blocks until the transfer finishes.
func (t *Transfer) Wait() Result {
	<-t.done
	return t.result
}

// Cancel aborts the in-flight request. Safe to call after completion.
func (t *Transfer) Cancel() { t.cancel() }

func (t *Transfer) finish(r Result) {
	t.result = r
	t.cancel()
	close(t.done)
}

// tracker remembers the single transfer a strategy currently exposes.
type tracker struct {
	mu      sync.Mutex
	current *Transfer
}

func (tr *tracker) track(t *Transfer) {
	tr.mu.Lock()
	tr.current = t
	tr.mu.Unlock()
}

func (tr *tracker) untrack(t *Transfer) {
	tr.mu.Lock()
	if tr.current == t {
		tr.current = nil
	}
	tr.mu.Unlock()
}

// Current returns the tracked transfer, if any.
func (tr *tracker) Current() *Transfer {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.current
}

// Cancel aborts the tracked transfer. It reports whether one was running.
func (tr *tracker) Cancel() bool {
	t := tr.Current()
	if t == nil {
		return false
	}
	t.Cancel()
	return true
}

package setup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/ttsprep/internal/install"
)

var ErrNoPendingDecision = errors.New("no decision pending for key")

// Decider chooses between retry and abort after a component failed
// verification. It is the only point where the setup flow asks for input.
type Decider interface {
	Decide(ctx context.Context, key string, out install.Outcome) install.Decision
}

// StaticDecider answers every failure the same way. A retry answer turns into
// abort once MaxAttempts attempts have been made.
type StaticDecider struct {
	Decision    install.Decision
	MaxAttempts int
}

func (d StaticDecider) Decide(_ context.Context, _ string, out install.Outcome) install.Decision {
	if d.Decision != install.Retry {
		return install.Abort
	}
	max := d.MaxAttempts
	if max <= 0 {
		max = 3
	}
	if out.Attempt >= max {
		return install.Abort
	}
	return install.Retry
}

// Publisher emits events on the install stream.
type Publisher interface {
	Publish(evt install.Event) install.Event
}

// PromptDecider publishes a decision_required event and blocks until a client
// calls Answer for the same key. Timeout or cancellation aborts.
type PromptDecider struct {
	publisher Publisher
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan install.Decision
}

func NewPromptDecider(publisher Publisher, timeout time.Duration) *PromptDecider {
	return &PromptDecider{
		publisher: publisher,
		timeout:   timeout,
		pending:   make(map[string]chan install.Decision),
	}
}

func (d *PromptDecider) Decide(ctx context.Context, key string, out install.Outcome) install.Decision {
	ch := make(chan install.Decision, 1)
	d.mu.Lock()
	d.pending[key] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		if d.pending[key] == ch {
			delete(d.pending, key)
		}
		d.mu.Unlock()
	}()

	detail := "installation failed or was cancelled; retry or abort?"
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	if d.publisher != nil {
		d.publisher.Publish(install.Event{
			Type:    install.EventDecisionRequired,
			Key:     key,
			Attempt: out.Attempt,
			Detail:  detail,
			Error:   errText,
		})
	}

	var timeout <-chan time.Time
	if d.timeout > 0 {
		timer := time.NewTimer(d.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case decision := <-ch:
		return decision
	case <-ctx.Done():
		return install.Abort
	case <-timeout:
		return install.Abort
	}
}

// Answer resolves the pending decision for key. Continue is accepted and
// treated as a request to move on without the component.
func (d *PromptDecider) Answer(key string, decision install.Decision) error {
	d.mu.Lock()
	ch, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingDecision, key)
	}
	ch <- decision
	return nil
}

// Pending returns keys waiting for an answer.
func (d *PromptDecider) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.pending))
	for k := range d.pending {
		out = append(out, k)
	}
	return out
}

package install

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultEventHistoryLimit = 256

type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventTaskState        EventType = "task_state"
	EventTaskProgress     EventType = "task_progress"
	EventTaskLog          EventType = "task_log"
	EventRunCompleted     EventType = "run_completed"
	EventRunAborted       EventType = "run_aborted"
	EventRunFailed        EventType = "run_failed"
	EventRunCancelled     EventType = "run_cancelled"
	EventNotice           EventType = "notice"
	EventDecisionRequired EventType = "decision_required"
)

// Event is one observable change, delivered to subscribers over channels.
// The orchestrator never decides which goroutine consumes them.
type Event struct {
	ID      string    `json:"id"`
	RunID   string    `json:"run_id,omitempty"`
	Type    EventType `json:"type"`
	Key     string    `json:"key,omitempty"`
	State   State     `json:"state,omitempty"`
	Percent int       `json:"percent,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Stream  string    `json:"stream,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Bus fans events out to subscribers and keeps a bounded history.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextSubID   int
	history     []Event
	historyMax  int
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		historyMax:  defaultEventHistoryLimit,
	}
}

// Subscribe returns a buffered event channel and a func that closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
}

// Publish stamps and delivers evt. Slow subscribers drop events rather than
// stalling the worker.
func (b *Bus) Publish(evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, evt)
	if max := b.historyMax; max > 0 && len(b.history) > max {
		trimFrom := len(b.history) - max
		b.history = append([]Event(nil), b.history[trimFrom:]...)
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

// History returns up to limit most recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

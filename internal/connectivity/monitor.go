package connectivity

import (
	"context"
	"log"
	"sync"
	"time"
)

// Monitor drives the connectivity state machine from periodic pings.
type Monitor struct {
	pinger Pinger

	mu        sync.Mutex
	status    Status
	listeners map[int]func(Status)
	nextID    int
	cancel    context.CancelFunc
	done      chan struct{}

	// checkMu serialises probes so transitions are applied in probe order.
	checkMu sync.Mutex
}

func NewMonitor(pinger Pinger) *Monitor {
	if pinger == nil {
		pinger = DefaultPinger(DefaultHost, DefaultPingTimeout)
	}
	return &Monitor{
		pinger:    pinger,
		listeners: make(map[int]func(Status)),
	}
}

// Status returns the last computed status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn to receive every new status. The returned func detaches it.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Check pings once, applies the transition and notifies listeners.
// A failed or timed-out ping only moves the state machine; a ping interrupted
// by ctx cancellation leaves the status untouched.
func (m *Monitor) Check(ctx context.Context) Status {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	ok := m.pinger.Ping(ctx) == nil
	if ctx.Err() != nil {
		// A cancelled ping says nothing about reachability.
		return m.Status()
	}

	m.mu.Lock()
	prev := m.status
	m.status = Next(prev, ok)
	next := m.status
	listeners := make([]func(Status), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if prev != next {
		log.Printf("connectivity: %s -> %s", prev, next)
	}
	for _, fn := range listeners {
		fn(next)
	}
	return next
}

// RunWatcher starts periodic checks. The first check runs immediately.
// Calls while a watcher is already running are no-ops.
func (m *Monitor) RunWatcher(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			m.Check(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Running reports whether a watcher is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// StopWatcher cancels the watcher and detaches every listener. Idempotent.
// It waits for an in-flight check, so it must not be called from a listener.
func (m *Monitor) StopWatcher() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.listeners = make(map[int]func(Status))
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

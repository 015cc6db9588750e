package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedPinger struct {
	mu      sync.Mutex
	results []bool
}

func (p *scriptedPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return errors.New("script exhausted")
	}
	ok := p.results[0]
	p.results = p.results[1:]
	if !ok {
		return errors.New("timeout")
	}
	return nil
}

func TestMonitorStatusSequence(t *testing.T) {
	m := NewMonitor(&scriptedPinger{results: []bool{false, false, true, false, true, true}})
	var seen []Status
	m.Subscribe(func(s Status) { seen = append(seen, s) })

	for i := 0; i < 6; i++ {
		m.Check(context.Background())
	}

	want := []Status{
		StatusDisconnected,
		StatusDisconnected,
		StatusReestablished,
		StatusLost,
		StatusReestablished,
		StatusConnected,
	}
	if len(seen) != len(want) {
		t.Fatalf("len(seen) = %d, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
	if m.Status() != StatusConnected {
		t.Fatalf("Status() = %s, want connected", m.Status())
	}
}

func TestMonitorUnsubscribe(t *testing.T) {
	m := NewMonitor(PingFunc(func(context.Context) error { return nil }))
	calls := 0
	unsubscribe := m.Subscribe(func(Status) { calls++ })
	m.Check(context.Background())
	unsubscribe()
	m.Check(context.Background())
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRunWatcherStartsOnceAndStopIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	pings := 0
	m := NewMonitor(PingFunc(func(context.Context) error {
		mu.Lock()
		pings++
		mu.Unlock()
		return nil
	}))

	notified := make(chan Status, 16)
	m.Subscribe(func(s Status) {
		select {
		case notified <- s:
		default:
		}
	})

	m.RunWatcher(time.Hour)
	m.RunWatcher(time.Hour)

	select {
	case s := <-notified:
		if s != StatusConnected {
			t.Fatalf("first status = %s, want connected", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not run an immediate check")
	}
	if !m.Running() {
		t.Fatalf("Running() = false while watcher active")
	}

	m.StopWatcher()
	m.StopWatcher()
	if m.Running() {
		t.Fatalf("Running() = true after StopWatcher")
	}

	mu.Lock()
	defer mu.Unlock()
	if pings != 1 {
		t.Fatalf("pings = %d, want 1 (second RunWatcher must be a no-op)", pings)
	}
}

func TestStopWatcherDetachesListeners(t *testing.T) {
	m := NewMonitor(PingFunc(func(context.Context) error { return nil }))
	calls := 0
	m.Subscribe(func(Status) { calls++ })
	m.StopWatcher()
	m.Check(context.Background())
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after StopWatcher", calls)
	}
}

func TestFailedPingIsNotAnError(t *testing.T) {
	m := NewMonitor(PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if got := m.Check(ctx); got != StatusDisconnected {
		t.Fatalf("Check() = %s, want disconnected", got)
	}
}

type blockingPinger struct {
	mu    sync.Mutex
	calls int
	block chan struct{}
}

func (p *blockingPinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		return nil
	}
	close(p.block)
	<-ctx.Done()
	return ctx.Err()
}

func TestStopWatcherKeepsStatusOnCancelledPing(t *testing.T) {
	p := &blockingPinger{block: make(chan struct{})}
	m := NewMonitor(p)
	m.RunWatcher(10 * time.Millisecond)

	select {
	case <-p.block:
	case <-time.After(5 * time.Second):
		t.Fatalf("second ping never started")
	}
	m.StopWatcher()

	if got := m.Status(); got != StatusConnected {
		t.Fatalf("status after StopWatcher = %s, want connected", got)
	}
}

func TestCheckWithCancelledContextIsNoop(t *testing.T) {
	m := NewMonitor(PingFunc(func(ctx context.Context) error { return ctx.Err() }))
	notified := 0
	m.Subscribe(func(Status) { notified++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := m.Check(ctx); got != StatusUndefined {
		t.Fatalf("Check(cancelled) = %s, want undefined", got)
	}
	if notified != 0 {
		t.Fatalf("listeners notified %d times, want 0", notified)
	}
}

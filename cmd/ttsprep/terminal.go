package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ent0n29/ttsprep/internal/install"
)

// terminalDecider asks on the terminal whether a failed component should be
// retried. Anything but an explicit retry aborts.
type terminalDecider struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newTerminalDecider(in io.Reader, out io.Writer) *terminalDecider {
	return &terminalDecider{in: bufio.NewReader(in), out: out}
}

func (d *terminalDecider) Decide(ctx context.Context, key string, out install.Outcome) install.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	reason := "verification failed"
	if out.Err != nil {
		reason = out.Err.Error()
	}
	fmt.Fprintf(d.out, "\n%s could not be installed (attempt %d): %s\n[r]etry or [a]bort? ", key, out.Attempt, reason)

	answer := make(chan string, 1)
	go func() {
		line, err := d.in.ReadString('\n')
		if err != nil && line == "" {
			answer <- ""
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(d.out)
		return install.Abort
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "retry", "y", "yes":
			return install.Retry
		default:
			return install.Abort
		}
	}
}

// progressRenderer prints install events. On a terminal, download progress
// rewrites one line in place.
type progressRenderer struct {
	out     io.Writer
	tty     bool
	inPlace bool
}

func newProgressRenderer(out io.Writer, tty bool) *progressRenderer {
	return &progressRenderer{out: out, tty: tty}
}

func (r *progressRenderer) Render(evt install.Event) {
	switch evt.Type {
	case install.EventTaskProgress:
		if !r.tty {
			if evt.Percent == 100 {
				r.line("%s: downloaded", evt.Key)
			}
			return
		}
		fmt.Fprintf(r.out, "\r%-16s %s %3d%%", evt.Key, bar(evt.Percent, 30), evt.Percent)
		r.inPlace = true
	case install.EventTaskState:
		if evt.State == install.StateDownloading || evt.State == install.StateVerifying {
			return
		}
		if evt.Detail != "" {
			r.line("%s: %s (%s)", evt.Key, evt.State, evt.Detail)
		} else {
			r.line("%s: %s", evt.Key, evt.State)
		}
	case install.EventTaskLog:
		r.line("  %s| %s", evt.Key, evt.Detail)
	case install.EventNotice:
		r.line("note: %s", evt.Detail)
	case install.EventRunFailed, install.EventRunCancelled:
		r.line("run %s: %s", strings.TrimPrefix(string(evt.Type), "run_"), evt.Error)
	}
}

func (r *progressRenderer) line(format string, args ...any) {
	if r.inPlace {
		fmt.Fprintln(r.out)
		r.inPlace = false
	}
	fmt.Fprintf(r.out, format+"\n", args...)
}

func bar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

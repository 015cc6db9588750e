package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Observer receives one call per finished transfer.
type Observer interface {
	ObserveDownload(strategy, outcome string, bytes int64)
}

type progressWriter struct {
	received int64
	total    int64
	last     int
	report   func(Progress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.received += int64(len(p))
	if w.report != nil && w.total > 0 {
		pct := int(w.received * 100 / w.total)
		if pct > 100 {
			pct = 100
		}
		if pct != w.last {
			w.last = pct
			w.report(Progress{Received: w.received, Total: w.total, Percent: pct})
		}
	}
	return len(p), nil
}

// streamToFile writes resp.Body to dest through a .part file renamed on success.
func streamToFile(resp *http.Response, dest string, report func(Progress)) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}
	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}

	pw := &progressWriter{total: resp.ContentLength, last: -1, report: report}
	n, copyErr := io.Copy(io.MultiWriter(f, pw), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(part)
		return n, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(part)
		return n, fmt.Errorf("close %s: %w", part, closeErr)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		_ = os.Remove(part)
		return n, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return n, fmt.Errorf("finalize %s: %w", dest, err)
	}
	if report != nil && pw.last != 100 {
		report(Progress{Received: n, Total: n, Percent: 100})
	}
	return n, nil
}

func classify(ctx context.Context, dest string, n int64, err error) Result {
	if err == nil {
		return Result{Outcome: OutcomeCompleted, Path: dest, Bytes: n}
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return Result{Outcome: OutcomeCancelled, Path: dest, Bytes: n, Err: ErrCancelled}
	}
	return Result{Outcome: OutcomeFailed, Path: dest, Bytes: n, Err: err}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return nil
}

func observe(o Observer, strategy string, r Result) {
	if o != nil {
		o.ObserveDownload(strategy, string(r.Outcome), r.Bytes)
	}
}

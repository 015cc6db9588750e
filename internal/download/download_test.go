package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveDownload(_ string, outcome string, _ int64) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("x"), n)
}

func TestDirectDownloadReportsFlooredProgress(t *testing.T) {
	body := payload(1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		for i := 0; i < len(body); i += 100 {
			_, _ = w.Write(body[i : i+100])
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	d := NewDirect(srv.Client(), obs)
	dest := filepath.Join(t.TempDir(), "sub", "python.exe")
	var percents []int
	res := d.Start(context.Background(), Request{
		URL:  srv.URL,
		Dest: dest,
		OnProgress: func(p Progress) {
			percents = append(percents, p.Percent)
		},
	}).Wait()

	if !res.OK() {
		t.Fatalf("result = %+v, want completed", res)
	}
	if res.Bytes != int64(len(body)) {
		t.Fatalf("Bytes = %d, want %d", res.Bytes, len(body))
	}
	got, err := os.ReadFile(dest)
	if err != nil || !bytes.Equal(got, body) {
		t.Fatalf("dest content mismatch (err=%v)", err)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatalf(".part file should be renamed away")
	}
	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Fatalf("progress = %v, want to end at 100", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] <= percents[i-1] {
			t.Fatalf("progress not strictly increasing: %v", percents)
		}
	}
	if d.Current() != nil {
		t.Fatalf("Current() should be cleared after completion")
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != string(OutcomeCompleted) {
		t.Fatalf("observer outcomes = %v", obs.outcomes)
	}
}

func TestDirectDownloadHTTPErrorIsReportedNotRaised(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "missing.bin")
	res := NewDirect(srv.Client(), nil).Start(context.Background(), Request{URL: srv.URL, Dest: dest}).Wait()
	if res.Outcome != OutcomeFailed || res.Err == nil {
		t.Fatalf("result = %+v, want failed", res)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("dest should not exist after a failed download")
	}
}

func TestCancelCurrentTransfer(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write(payload(10))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	e := NewEngine(srv.Client(), nil)
	dest := filepath.Join(t.TempDir(), "stalled.bin")
	tr := e.Strategy(KindDirect).Start(context.Background(), Request{URL: srv.URL, Dest: dest})

	<-started
	if !e.Active() {
		t.Fatalf("Active() = false during transfer")
	}
	if !e.CancelAll() {
		t.Fatalf("CancelAll() = false, want a tracked transfer")
	}
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("transfer did not finish after cancel")
	}
	res := tr.Wait()
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %s, want cancelled", res.Outcome)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatalf("partial artifact should be removed after cancel")
	}
	if e.CancelAll() {
		t.Fatalf("CancelAll() after completion = true, want false")
	}
}

func TestLargeFileUsesCookieToken(t *testing.T) {
	body := payload(4096)
	var confirmed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("confirm"); token != "" {
			confirmed = token
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", `attachment; filename="G_600000.pth"`)
			_, _ = w.Write(body)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "download_warning_1234", Value: "tok3n", Path: "/"})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>Google Drive can't scan this file for viruses.</body></html>"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.pth")
	res := NewLargeFile(srv.Client(), nil).Start(context.Background(), Request{URL: srv.URL + "/uc?export=download&id=abc", Dest: dest}).Wait()
	if !res.OK() {
		t.Fatalf("result = %+v, want completed", res)
	}
	if confirmed != "tok3n" {
		t.Fatalf("confirm token = %q, want tok3n", confirmed)
	}
	if res.Bytes != int64(len(body)) {
		t.Fatalf("Bytes = %d, want %d", res.Bytes, len(body))
	}
}

func TestLargeFileReplaysConfirmForm(t *testing.T) {
	body := payload(2048)
	var gotUUID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/download" {
			gotUUID = r.URL.Query().Get("uuid")
			if r.URL.Query().Get("confirm") != "t" || r.URL.Query().Get("id") != "abc" {
				http.Error(w, "bad confirm", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(body)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<form id="download-form" action="/download" method="get">`+
			`<input type="hidden" name="id" value="abc">`+
			`<input type="hidden" name="export" value="download">`+
			`<input type="hidden" name="confirm" value="t">`+
			`<input type="hidden" name="uuid" value="u-1"></form>`)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.pth")
	res := NewLargeFile(srv.Client(), nil).Start(context.Background(), Request{URL: srv.URL + "/uc?id=abc", Dest: dest}).Wait()
	if !res.OK() {
		t.Fatalf("result = %+v, want completed", res)
	}
	if gotUUID != "u-1" {
		t.Fatalf("uuid = %q, want u-1", gotUUID)
	}
}

func TestLargeFileServesDirectlyWithoutWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload(64))
	}))
	defer srv.Close()

	res := NewLargeFile(srv.Client(), nil).Start(context.Background(), Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "a")}).Wait()
	if !res.OK() || res.Bytes != 64 {
		t.Fatalf("result = %+v", res)
	}
}

func TestLargeFileWithoutTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>quota exceeded</html>"))
	}))
	defer srv.Close()

	res := NewLargeFile(srv.Client(), nil).Start(context.Background(), Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "a")}).Wait()
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed", res.Outcome)
	}
}

func TestEngineStrategySelection(t *testing.T) {
	e := NewEngine(nil, nil)
	if got := e.Strategy("large_file").Name(); got != KindLargeFile {
		t.Fatalf("Strategy(large_file) = %s", got)
	}
	if got := e.Strategy("").Name(); got != KindDirect {
		t.Fatalf("Strategy(\"\") = %s", got)
	}
}

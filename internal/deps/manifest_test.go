package deps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

const manifestJSON = `{
  "python": {"name": "python", "versionMajor": 3, "versionMinor": 9, "url": "https://example.com/python.exe"},
  "pyDependencies": {"name": "install.ps1", "versionMajor": 2, "versionMinor": 0},
  "model": {"name": "G_600000.pth", "versionMajor": 1, "versionMinor": 0, "url": "https://drive.example.com/uc?id=abc", "checksum": "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709"}
}`

func openMemBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	b, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestDecodeManifest(t *testing.T) {
	m, err := DecodeManifest([]byte(manifestJSON))
	if err != nil {
		t.Fatalf("DecodeManifest() error = %v", err)
	}
	model, ok := m.Get(KeyModel)
	if !ok {
		t.Fatalf("model descriptor missing")
	}
	if model.Key != KeyModel {
		t.Fatalf("model.Key = %q, want %q", model.Key, KeyModel)
	}
	if model.Checksum != "da39a3ee5e6b4b0d3255bfef95601890afd80709" {
		t.Fatalf("checksum not normalised: %q", model.Checksum)
	}
	if got := m.Keys(); len(got) != 3 || got[0] != KeyModel {
		t.Fatalf("Keys() = %v", got)
	}
	if _, err := DecodeManifest([]byte(`{"x": {"versionMajor": 1}}`)); err == nil {
		t.Fatalf("descriptor without name should be rejected")
	}
}

func TestManifestRefreshSharesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(manifestJSON))
	}))
	defer srv.Close()

	src := NewManifestSource(ManifestSourceConfig{URL: srv.URL})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := src.Refresh(context.Background()); err != nil {
				t.Errorf("Refresh() error = %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Fatalf("server hits = %d, want 1", got)
	}
	if src.Current() == nil {
		t.Fatalf("Current() = nil after refresh")
	}
}

func TestManifestRefreshFailureKeepsPreviousValues(t *testing.T) {
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(manifestJSON))
	}))
	defer srv.Close()

	src := NewManifestSource(ManifestSourceConfig{URL: srv.URL, Attempts: 1})
	if _, err := src.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	fail.Store(true)
	m, err := src.Refresh(context.Background())
	if err == nil {
		t.Fatalf("Refresh() error = nil, want failure")
	}
	if _, ok := m.Get(KeyPython); !ok {
		t.Fatalf("previous manifest not returned on failure")
	}
}

func TestManifestFallsBackToBlobCache(t *testing.T) {
	bucket := openMemBucket(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(manifestJSON))
	}))
	first := NewManifestSource(ManifestSourceConfig{URL: srv.URL, Cache: bucket})
	if _, err := first.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	srv.Close()

	second := NewManifestSource(ManifestSourceConfig{URL: srv.URL, Cache: bucket, Attempts: 1})
	m, err := second.Refresh(context.Background())
	if err == nil {
		t.Fatalf("Refresh() against closed server should report an error")
	}
	if _, ok := m.Get(KeyModel); !ok {
		t.Fatalf("cached manifest not used")
	}
	if second.Current() == nil {
		t.Fatalf("Current() = nil, want cached manifest")
	}
}

func TestManifestRetriesRetryableStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(manifestJSON))
	}))
	defer srv.Close()

	src := NewManifestSource(ManifestSourceConfig{
		URL:         srv.URL,
		Attempts:    3,
		BackoffBase: time.Millisecond,
		BackoffCap:  time.Millisecond,
	})
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("server hits = %d, want 2", got)
	}
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (r *stageRecorder) ObserveStage(key, stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, key+"/"+stage)
}

func TestManifestRefreshReportsFetchStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(manifestJSON))
	}))
	defer srv.Close()

	rec := &stageRecorder{}
	src := NewManifestSource(ManifestSourceConfig{URL: srv.URL, Observer: rec})
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if len(rec.stages) != 1 || rec.stages[0] != "manifest/manifest_fetch" {
		t.Fatalf("stages = %v, want one manifest/manifest_fetch", rec.stages)
	}
}

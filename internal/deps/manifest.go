package deps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/ttsprep/internal/reliability"
)

var ErrNoManifest = errors.New("manifest not loaded")

// StageObserver receives the duration of each network fetch.
type StageObserver interface {
	ObserveStage(key, stage string, d time.Duration)
}

const (
	defaultManifestCacheKey = "manifest.json"
	maxManifestBytes        = 4 << 20
)

// ManifestSourceConfig configures manifest fetching and caching.
type ManifestSourceConfig struct {
	URL         string
	Client      *http.Client
	Cache       *blob.Bucket
	CacheKey    string
	Attempts    int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Observer    StageObserver
}

// ManifestSource fetches the remote manifest once per session and keeps the
// last good document in memory and in a blob bucket.
type ManifestSource struct {
	url         string
	client      *http.Client
	cache       *blob.Bucket
	cacheKey    string
	attempts    int
	backoffBase time.Duration
	backoffCap  time.Duration
	observer    StageObserver

	group singleflight.Group

	mu        sync.RWMutex
	current   Manifest
	fetchedAt time.Time
}

func NewManifestSource(cfg ManifestSourceConfig) *ManifestSource {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(cfg.CacheKey) == "" {
		cfg.CacheKey = defaultManifestCacheKey
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Second
	}
	return &ManifestSource{
		url:         strings.TrimSpace(cfg.URL),
		client:      cfg.Client,
		cache:       cfg.Cache,
		cacheKey:    cfg.CacheKey,
		attempts:    cfg.Attempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		observer:    cfg.Observer,
	}
}

// Current returns the manifest in effect, or nil before the first load.
func (s *ManifestSource) Current() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// FetchedAt returns when the manifest in effect was fetched from the network.
func (s *ManifestSource) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// Load returns the manifest in memory if present, otherwise fetches it.
func (s *ManifestSource) Load(ctx context.Context) (Manifest, error) {
	if m := s.Current(); m != nil {
		return m, nil
	}
	return s.Refresh(ctx)
}

// Refresh fetches the manifest from the network. Concurrent callers share one
// fetch. On failure the previously loaded manifest (memory, then blob cache)
// is returned together with the fetch error.
func (s *ManifestSource) Refresh(ctx context.Context) (Manifest, error) {
	v, err, _ := s.group.Do("manifest", func() (any, error) {
		start := time.Now()
		m, err := s.fetch(ctx)
		if s.observer != nil {
			s.observer.ObserveStage("manifest", "manifest_fetch", time.Since(start))
		}
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.current = m
		s.fetchedAt = time.Now().UTC()
		s.mu.Unlock()
		s.writeCache(ctx, m)
		return m, nil
	})
	if err == nil {
		return v.(Manifest), nil
	}

	if m := s.Current(); m != nil {
		return m, fmt.Errorf("refresh manifest (using previous): %w", err)
	}
	if m, cacheErr := s.readCache(ctx); cacheErr == nil {
		s.mu.Lock()
		if s.current == nil {
			s.current = m
		}
		s.mu.Unlock()
		return m, fmt.Errorf("refresh manifest (using cached copy): %w", err)
	}
	return nil, fmt.Errorf("refresh manifest: %w", err)
}

func (s *ManifestSource) fetch(ctx context.Context) (Manifest, error) {
	if s.url == "" {
		return nil, errors.New("manifest url is not configured")
	}
	var body []byte
	err := reliability.Retry(ctx, s.attempts, s.backoffBase, s.backoffCap, func(attempt int) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return false, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return reliability.IsRetryableNetError(err), err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return reliability.IsRetryableHTTPStatus(resp.StatusCode), fmt.Errorf("manifest http status %d", resp.StatusCode)
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
		if err != nil {
			return true, fmt.Errorf("read manifest body: %w", err)
		}
		body = b
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return DecodeManifest(body)
}

func (s *ManifestSource) readCache(ctx context.Context) (Manifest, error) {
	if s.cache == nil {
		return nil, ErrNoManifest
	}
	data, err := s.cache.ReadAll(ctx, s.cacheKey)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("read manifest cache: %w", err)
	}
	return DecodeManifest(data)
}

func (s *ManifestSource) writeCache(ctx context.Context, m Manifest) {
	if s.cache == nil {
		return
	}
	data, err := encodeManifest(m)
	if err != nil {
		log.Printf("manifest: encode cache copy failed: %v", err)
		return
	}
	if err := s.cache.WriteAll(ctx, s.cacheKey, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		log.Printf("manifest: write cache copy failed: %v", err)
	}
}

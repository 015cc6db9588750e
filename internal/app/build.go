package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ent0n29/ttsprep/internal/config"
	"github.com/ent0n29/ttsprep/internal/connectivity"
	"github.com/ent0n29/ttsprep/internal/deps"
	"github.com/ent0n29/ttsprep/internal/download"
	"github.com/ent0n29/ttsprep/internal/httpapi"
	"github.com/ent0n29/ttsprep/internal/install"
	"github.com/ent0n29/ttsprep/internal/observability"
	"github.com/ent0n29/ttsprep/internal/setup"
	"github.com/ent0n29/ttsprep/internal/versions"
)

// Options override pieces of the default wiring.
type Options struct {
	// Decider replaces the one selected by cfg.DecisionMode.
	Decider setup.Decider
	// Launcher replaces the process launcher.
	Launcher install.Launcher
	// Pinger replaces the ICMP/TCP reachability probe.
	Pinger connectivity.Pinger
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Planner      *setup.Planner
	Orchestrator *install.Orchestrator
	Manifest     *deps.ManifestSource
	Monitor      *connectivity.Monitor
	Prompts      *setup.PromptDecider
	Metrics      *observability.Metrics
	Versions     versions.Store

	// Cleanup should be called on shutdown to cancel transfers and release the
	// version store and manifest cache.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	bucket, err := blob.OpenBucket(ctx, cfg.ManifestCacheURL)
	if err != nil {
		return nil, fmt.Errorf("manifest cache init failed: %w", err)
	}

	store, err := versions.NewStore(ctx, cfg.DatabaseURL, cfg.VersionRecordPath)
	if err != nil {
		_ = bucket.Close()
		return nil, fmt.Errorf("version store init failed: %w", err)
	}

	manifest := deps.NewManifestSource(deps.ManifestSourceConfig{
		URL:         cfg.ManifestURL,
		Client:      &http.Client{Timeout: 30 * time.Second},
		Cache:       bucket,
		Attempts:    cfg.ManifestAttempts,
		BackoffBase: cfg.ManifestBackoffBase,
		BackoffCap:  cfg.ManifestBackoffCap,
		Observer:    metrics,
	})

	prober := deps.NewProber(deps.ProberConfig{
		VersionFlag: cfg.VersionFlag,
		CacheSize:   cfg.ProbeCacheSize,
		CacheTTL:    cfg.ProbeCacheTTL,
	})

	launcher := opts.Launcher
	if launcher == nil {
		launcher = install.NewProcessLauncher(install.DefaultInterpreters())
	}

	// Transfers are bounded by cancellation, not by a client timeout; model
	// archives take minutes on slow links.
	engine := download.NewEngine(&http.Client{}, metrics)
	orchestrator := install.NewOrchestrator(install.Config{
		Downloader: engine,
		Launcher:   launcher,
		Observer:   metrics,
	})

	var prompts *setup.PromptDecider
	decider := opts.Decider
	if decider == nil {
		switch cfg.DecisionMode {
		case config.DecisionPrompt:
			prompts = setup.NewPromptDecider(orchestrator, cfg.DecisionTimeout)
			decider = prompts
		case config.DecisionRetry:
			decider = setup.StaticDecider{Decision: install.Retry}
		default:
			decider = setup.StaticDecider{Decision: install.Abort}
		}
	}

	planner, err := setup.NewPlanner(setup.Config{
		Manifest:     manifest,
		Prober:       prober,
		Versions:     store,
		Orchestrator: orchestrator,
		Decider:      decider,
		Paths: setup.Paths{
			TempDir:       cfg.TempDir,
			VenvDir:       cfg.VenvDir,
			ModelDir:      cfg.ModelDir,
			InstallScript: cfg.InstallScript,
			PythonCommand: cfg.PythonCommand,
		},
		Observer: metrics,
	})
	if err != nil {
		_ = store.Close()
		_ = bucket.Close()
		return nil, err
	}

	pinger := opts.Pinger
	if pinger == nil {
		pinger = connectivity.DefaultPinger(cfg.ConnectionHost, cfg.ConnectionTimeout)
	}
	monitor := connectivity.NewMonitor(pinger)
	statusNames := connectivity.StatusNames()
	metrics.SetConnectionStatus(monitor.Status().String(), statusNames)
	monitor.Subscribe(func(status connectivity.Status) {
		metrics.SetConnectionStatus(status.String(), statusNames)
		if status == connectivity.StatusReestablished {
			metrics.ObserveIndicator("reconnect")
		}
	})
	planner.WatchConnection(ctx, monitor, cfg.AutoEnsure)

	api := httpapi.New(ctx, cfg, httpapi.Deps{
		Planner:      planner,
		Orchestrator: orchestrator,
		Manifest:     manifest,
		Monitor:      monitor,
		Prompts:      prompts,
		Metrics:      metrics,
	})

	cleanup := func() error {
		var errs []string
		monitor.StopWatcher()
		orchestrator.CancelDownloads()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := bucket.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Planner:      planner,
		Orchestrator: orchestrator,
		Manifest:     manifest,
		Monitor:      monitor,
		Prompts:      prompts,
		Metrics:      metrics,
		Versions:     store,
		Cleanup:      cleanup,
	}, nil
}

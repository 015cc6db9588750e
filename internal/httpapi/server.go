package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/ttsprep/internal/config"
	"github.com/ent0n29/ttsprep/internal/connectivity"
	"github.com/ent0n29/ttsprep/internal/deps"
	"github.com/ent0n29/ttsprep/internal/install"
	"github.com/ent0n29/ttsprep/internal/observability"
	"github.com/ent0n29/ttsprep/internal/setup"
)

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Planner      *setup.Planner
	Orchestrator *install.Orchestrator
	Manifest     *deps.ManifestSource
	Monitor      *connectivity.Monitor
	Prompts      *setup.PromptDecider
	Metrics      *observability.Metrics
}

type Server struct {
	cfg      config.Config
	planner  *setup.Planner
	orch     *install.Orchestrator
	manifest *deps.ManifestSource
	monitor  *connectivity.Monitor
	prompts  *setup.PromptDecider
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	static   http.Handler

	// wsPingInterval must stay well below wsReadTimeout so idle listeners
	// keep their connection.
	wsPingInterval time.Duration
	wsReadTimeout  time.Duration

	// baseCtx outlives requests; install runs started over HTTP use it.
	baseCtx context.Context
}

func New(ctx context.Context, cfg config.Config, d Deps) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{
		cfg:      cfg,
		planner:  d.Planner,
		orch:     d.Orchestrator,
		manifest: d.Manifest,
		monitor:  d.Monitor,
		prompts:  d.Prompts,
		metrics:  d.Metrics,
		baseCtx:  ctx,
		static:   newStaticHandler(),

		wsPingInterval: 30 * time.Second,
		wsReadTimeout:  120 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive installs unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/stages", s.handlePerfStages)

	r.Get("/v1/dependencies", s.handleCheck)
	r.Get("/v1/versions", s.handleVersions)
	r.Post("/v1/dependencies/ensure", s.handleEnsure)
	r.Post("/v1/manifest/refresh", s.handleManifestRefresh)
	r.Get("/v1/install/queue", s.handleQueue)
	r.Post("/v1/downloads/cancel", s.handleCancelDownloads)
	r.Get("/v1/connection", s.handleConnection)
	r.Post("/v1/decisions/{key}", s.handleDecision)
	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"install_running": s.orch != nil && s.orch.Running(),
		"decision_mode":   s.cfg.DecisionMode,
		"version_store":   s.versionStoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.manifest == nil || s.manifest.Current() == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "manifest_unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":              "ready",
		"manifest_fetched_at": s.manifest.FetchedAt(),
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if s.planner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "setup planner not configured")
		return
	}
	report, err := s.planner.Check(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "check_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if s.planner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "setup planner not configured")
		return
	}
	records, err := s.planner.Versions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "versions_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"versions": records})
}

func (s *Server) handleEnsure(w http.ResponseWriter, _ *http.Request) {
	if s.planner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "setup planner not configured")
		return
	}
	started, err := s.planner.Ensure(s.baseCtx)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "ensure_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"started": started,
		"running": s.orch.Running(),
		"queued":  s.orch.Queued(),
	})
}

func (s *Server) handleManifestRefresh(w http.ResponseWriter, r *http.Request) {
	if s.manifest == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "manifest source not configured")
		return
	}
	m, err := s.manifest.Refresh(r.Context())
	if m == nil {
		respondError(w, http.StatusBadGateway, "manifest_unavailable", err.Error())
		return
	}
	payload := map[string]any{
		"dependencies": m,
		"keys":         m.Keys(),
		"stale":        err != nil,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("events")); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_events_limit", err.Error())
			return
		}
		limit = n
	}
	pending := []string{}
	if s.prompts != nil {
		pending = s.prompts.Pending()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"running":           s.orch.Running(),
		"queued":            s.orch.Queued(),
		"states":            s.orch.States(),
		"pending_decisions": pending,
		"last_run":          s.orch.LastRun(),
		"events":            s.orch.Bus().History(limit),
	})
}

func (s *Server) handleCancelDownloads(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"cancelled": s.orch.CancelDownloads(),
	})
}

func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "connection monitor not configured")
		return
	}
	status := s.monitor.Status()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"online":          status.Online(),
		"watcher_running": s.monitor.Running(),
	})
}

type decisionRequest struct {
	Choice string `json:"choice"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if s.prompts == nil {
		respondError(w, http.StatusConflict, "decisions_disabled", "decision mode is "+s.cfg.DecisionMode)
		return
	}
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	decision, err := install.ParseDecision(strings.ToLower(strings.TrimSpace(req.Choice)))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_choice", err.Error())
		return
	}
	if err := s.prompts.Answer(key, decision); err != nil {
		if errors.Is(err, setup.ErrNoPendingDecision) {
			respondError(w, http.StatusNotFound, "no_pending_decision", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "decision_failed", err.Error())
		return
	}
	log.Printf("httpapi: decision %s for %s", decision, key)
	respondJSON(w, http.StatusOK, map[string]any{"key": key, "decision": decision.String()})
}

func (s *Server) versionStoreMode() string {
	switch {
	case strings.TrimSpace(s.cfg.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(s.cfg.VersionRecordPath) != "":
		return "file"
	default:
		return "in-memory"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}

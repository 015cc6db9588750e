package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/ttsprep/internal/protocol"
)

type options struct {
	baseURL    string
	checks     int
	ensure     bool
	decision   string
	runTimeout time.Duration
	verbose    bool
}

type wsEnvelope struct {
	Type   string          `json:"type"`
	Key    string          `json:"key,omitempty"`
	Code   string          `json:"code,omitempty"`
	Detail string          `json:"detail,omitempty"`
	Event  json.RawMessage `json:"event,omitempty"`
}

type eventBody struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	State   string `json:"state,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Error   string `json:"error,omitempty"`
}

var terminalEvents = map[string]bool{
	"run_completed": true,
	"run_aborted":   true,
	"run_failed":    true,
	"run_cancelled": true,
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfinstall: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfinstall: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var runTimeoutSec int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "ttsprep base URL")
	flag.IntVar(&cfg.checks, "checks", 10, "number of dependency checks to time")
	flag.BoolVar(&cfg.ensure, "ensure", false, "also run one ensure cycle over the websocket")
	flag.StringVar(&cfg.decision, "decision", "abort", "answer to decision_required prompts (retry|abort)")
	flag.IntVar(&runTimeoutSec, "run-timeout-sec", 1800, "timeout waiting for the install run to finish")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print run progress")
	flag.Parse()

	if cfg.checks < 0 {
		return cfg, fmt.Errorf("checks must be >= 0")
	}
	cfg.decision = strings.ToLower(strings.TrimSpace(cfg.decision))
	if cfg.decision != "retry" && cfg.decision != "abort" {
		return cfg, fmt.Errorf("decision must be retry or abort")
	}
	if runTimeoutSec <= 0 {
		return cfg, fmt.Errorf("run-timeout-sec must be > 0")
	}
	cfg.runTimeout = time.Duration(runTimeoutSec) * time.Second
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.runTimeout+time.Minute)
	defer cancel()

	client := &http.Client{Timeout: 45 * time.Second}
	base := strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	if cfg.checks > 0 {
		durations := make([]time.Duration, 0, cfg.checks)
		for i := 0; i < cfg.checks; i++ {
			start := time.Now()
			if err := getOK(ctx, client, base+"/v1/dependencies"); err != nil {
				return fmt.Errorf("check %d: %w", i+1, err)
			}
			durations = append(durations, time.Since(start))
		}
		fmt.Printf("perfinstall: checks=%d p50=%s p95=%s max=%s\n",
			len(durations), percentile(durations, 50), percentile(durations, 95), percentile(durations, 100))
	}

	if cfg.ensure {
		wsURL, err := wsURLForEvents(cfg.baseURL)
		if err != nil {
			return fmt.Errorf("build ws URL: %w", err)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return fmt.Errorf("open websocket: %w", err)
		}
		defer conn.Close()

		start := time.Now()
		if err := conn.WriteJSON(protocol.Ensure{Type: protocol.TypeEnsure}); err != nil {
			return fmt.Errorf("send ensure: %w", err)
		}
		outcome, err := awaitRun(conn, cfg)
		if err != nil {
			return fmt.Errorf("await run: %w", err)
		}
		fmt.Printf("perfinstall: run %s after %s\n", outcome, time.Since(start).Round(time.Millisecond))
	}

	stages, err := getBody(ctx, client, base+"/v1/perf/stages")
	if err != nil {
		return fmt.Errorf("perf stages: %w", err)
	}
	fmt.Printf("perfinstall: stages %s\n", strings.TrimSpace(string(stages)))
	return nil
}

// awaitRun reads the event stream until a run reaches a terminal event,
// answering decision prompts with cfg.decision.
func awaitRun(conn *websocket.Conn, cfg options) (string, error) {
	deadline := time.Now().Add(cfg.runTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeDecisionRequired):
			if cfg.verbose {
				fmt.Printf("perfinstall: %s needs a decision, answering %s\n", env.Key, cfg.decision)
			}
			msg := protocol.Decision{Type: protocol.TypeDecision, Key: env.Key, Choice: cfg.decision}
			if err := conn.WriteJSON(msg); err != nil {
				return "", err
			}
		case string(protocol.TypeErrorEvent):
			if cfg.verbose {
				fmt.Fprintf(os.Stderr, "perfinstall: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
		case string(protocol.TypeInstallEvent):
			var evt eventBody
			if err := json.Unmarshal(env.Event, &evt); err != nil {
				continue
			}
			if cfg.verbose && evt.Type == "task_state" {
				fmt.Printf("perfinstall: %s %s\n", evt.Key, evt.State)
			}
			if terminalEvents[evt.Type] {
				return strings.TrimPrefix(evt.Type, "run_"), nil
			}
		}
	}
}

func getOK(ctx context.Context, client *http.Client, rawURL string) error {
	_, err := getBody(ctx, client, rawURL)
	return err
}

func getBody(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func wsURLForEvents(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events/ws"
	return u.String(), nil
}

func percentile(values []time.Duration, p int) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (p*len(sorted) + 99) / 100
	if idx < 1 {
		idx = 1
	}
	if idx > len(sorted) {
		idx = len(sorted)
	}
	return sorted[idx-1]
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.ConnectionHost != "google.com" {
		t.Fatalf("ConnectionHost = %q, want google.com", cfg.ConnectionHost)
	}
	if cfg.ConnectionInterval != 5*time.Second || cfg.ConnectionTimeout != 2*time.Second {
		t.Fatalf("connection timings = (%v, %v), want (5s, 2s)", cfg.ConnectionInterval, cfg.ConnectionTimeout)
	}
	if cfg.ModelDir != filepath.Join("GameTTS", "vits", "model") {
		t.Fatalf("ModelDir = %q", cfg.ModelDir)
	}
	if cfg.VenvDir != filepath.Join("GameTTS", ".venv") {
		t.Fatalf("VenvDir = %q", cfg.VenvDir)
	}
	if cfg.DecisionMode != DecisionPrompt {
		t.Fatalf("DecisionMode = %q, want prompt", cfg.DecisionMode)
	}
	if !strings.HasPrefix(cfg.ManifestCacheURL, "file://") {
		t.Fatalf("ManifestCacheURL = %q, want file:// default", cfg.ManifestCacheURL)
	}
}

func TestLoadDerivesPathsFromBaseDir(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BASE_DIR", "/opt/tts")
	t.Setenv("MODEL_DIR", "/srv/models")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TempDir != filepath.Join("/opt/tts", "tmp") {
		t.Fatalf("TempDir = %q, want derived from BASE_DIR", cfg.TempDir)
	}
	if cfg.ModelDir != "/srv/models" {
		t.Fatalf("ModelDir = %q, want explicit value", cfg.ModelDir)
	}
}

func TestLoadOverlayFileBeneathEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "ttsprep.yaml")
	doc := "bind_addr: \":9191\"\nmanifest_url: http://example.test/update.json\nconnection_interval: 10s\nauto_ensure: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("APP_BIND_ADDR", ":7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7070" {
		t.Fatalf("BindAddr = %q, want env to win", cfg.BindAddr)
	}
	if cfg.ManifestURL != "http://example.test/update.json" {
		t.Fatalf("ManifestURL = %q, want overlay value", cfg.ManifestURL)
	}
	if cfg.ConnectionInterval != 10*time.Second {
		t.Fatalf("ConnectionInterval = %v, want 10s", cfg.ConnectionInterval)
	}
	if !cfg.AutoEnsure {
		t.Fatalf("AutoEnsure = false, want overlay true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"DECISION_MODE":             "maybe",
		"CONNECTION_CHECK_INTERVAL": "10ms",
		"MANIFEST_FETCH_ATTEMPTS":   "0",
		"APP_ALLOW_ANY_ORIGIN":      "sometimes",
		"CONFIG_FILE":               "/does/not/exist.yaml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"MANIFEST_URL",
		"MANIFEST_CACHE_URL",
		"MANIFEST_FETCH_ATTEMPTS",
		"MANIFEST_BACKOFF_BASE",
		"MANIFEST_BACKOFF_CAP",
		"BASE_DIR",
		"STATE_DIR",
		"TEMP_DIR",
		"VENV_DIR",
		"MODEL_DIR",
		"INSTALL_SCRIPT",
		"VERSION_RECORD_PATH",
		"DATABASE_URL",
		"PYTHON_COMMAND",
		"PROBE_VERSION_FLAG",
		"CONNECTION_CHECK_HOST",
		"CONNECTION_CHECK_INTERVAL",
		"CONNECTION_CHECK_TIMEOUT",
		"PROBE_CACHE_TTL",
		"PROBE_CACHE_SIZE",
		"DECISION_MODE",
		"DECISION_TIMEOUT",
		"AUTO_ENSURE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the dependency setup service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	ManifestURL         string
	ManifestCacheURL    string
	ManifestAttempts    int
	ManifestBackoffBase time.Duration
	ManifestBackoffCap  time.Duration

	BaseDir           string
	StateDir          string
	TempDir           string
	VenvDir           string
	ModelDir          string
	InstallScript     string
	VersionRecordPath string
	DatabaseURL       string

	PythonCommand string
	VersionFlag   string

	ConnectionHost     string
	ConnectionInterval time.Duration
	ConnectionTimeout  time.Duration

	ProbeCacheTTL  time.Duration
	ProbeCacheSize int

	DecisionMode    string
	DecisionTimeout time.Duration
	AutoEnsure      bool
}

// fileOverlay is the optional YAML document named by CONFIG_FILE. Values in it
// replace built-in defaults; environment variables still win.
type fileOverlay struct {
	BindAddr           string `yaml:"bind_addr"`
	MetricsNamespace   string `yaml:"metrics_namespace"`
	ManifestURL        string `yaml:"manifest_url"`
	ManifestCacheURL   string `yaml:"manifest_cache_url"`
	BaseDir            string `yaml:"base_dir"`
	StateDir           string `yaml:"state_dir"`
	TempDir            string `yaml:"temp_dir"`
	VenvDir            string `yaml:"venv_dir"`
	ModelDir           string `yaml:"model_dir"`
	InstallScript      string `yaml:"install_script"`
	VersionRecordPath  string `yaml:"version_record_path"`
	PythonCommand      string `yaml:"python_command"`
	ConnectionHost     string `yaml:"connection_host"`
	ConnectionInterval string `yaml:"connection_interval"`
	ConnectionTimeout  string `yaml:"connection_timeout"`
	DecisionMode       string `yaml:"decision_mode"`
	AutoEnsure         *bool  `yaml:"auto_ensure"`
}

const (
	DecisionPrompt = "prompt"
	DecisionAbort  = "abort"
	DecisionRetry  = "retry"
)

// Load reads the optional overlay file and environment variables and applies
// safe defaults.
func Load() (Config, error) {
	overlay, err := loadOverlay(stringsTrimSpace("CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}

	baseDir := envOrDefault("BASE_DIR", firstNonEmpty(overlay.BaseDir, "GameTTS"))
	stateDir := envOrDefault("STATE_DIR", firstNonEmpty(overlay.StateDir, "."))

	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", firstNonEmpty(overlay.BindAddr, ":8080")),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", firstNonEmpty(overlay.MetricsNamespace, "ttsprep")),
		ManifestURL:         envOrDefault("MANIFEST_URL", overlay.ManifestURL),
		ManifestCacheURL:    envOrDefault("MANIFEST_CACHE_URL", overlay.ManifestCacheURL),
		ManifestAttempts:    3,
		ManifestBackoffBase: 250 * time.Millisecond,
		ManifestBackoffCap:  4 * time.Second,
		BaseDir:             baseDir,
		StateDir:            stateDir,
		TempDir:             envOrDefault("TEMP_DIR", firstNonEmpty(overlay.TempDir, filepath.Join(baseDir, "tmp"))),
		VenvDir:             envOrDefault("VENV_DIR", firstNonEmpty(overlay.VenvDir, filepath.Join(baseDir, ".venv"))),
		ModelDir:            envOrDefault("MODEL_DIR", firstNonEmpty(overlay.ModelDir, filepath.Join(baseDir, "vits", "model"))),
		InstallScript:       envOrDefault("INSTALL_SCRIPT", firstNonEmpty(overlay.InstallScript, filepath.Join(baseDir, "install.ps1"))),
		VersionRecordPath:   envOrDefault("VERSION_RECORD_PATH", firstNonEmpty(overlay.VersionRecordPath, filepath.Join(stateDir, "appConfig.json"))),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		PythonCommand:       envOrDefault("PYTHON_COMMAND", firstNonEmpty(overlay.PythonCommand, "python")),
		VersionFlag:         envOrDefault("PROBE_VERSION_FLAG", "--version"),
		ConnectionHost:      envOrDefault("CONNECTION_CHECK_HOST", firstNonEmpty(overlay.ConnectionHost, "google.com")),
		ConnectionInterval:  5 * time.Second,
		ConnectionTimeout:   2 * time.Second,
		ProbeCacheTTL:       30 * time.Second,
		ProbeCacheSize:      64,
		DecisionMode:        strings.ToLower(envOrDefault("DECISION_MODE", firstNonEmpty(overlay.DecisionMode, DecisionPrompt))),
		DecisionTimeout:     0,
		ShutdownTimeout:     15 * time.Second,
	}
	if overlay.AutoEnsure != nil {
		cfg.AutoEnsure = *overlay.AutoEnsure
	}
	if cfg.ManifestCacheURL == "" {
		abs, err := filepath.Abs(filepath.Join(stateDir, "cache"))
		if err != nil {
			return Config{}, fmt.Errorf("resolve manifest cache dir: %w", err)
		}
		cfg.ManifestCacheURL = "file:///" + strings.TrimPrefix(filepath.ToSlash(abs), "/") + "?create_dir=true"
	}

	if cfg.ConnectionInterval, err = overlayDuration("connection_interval", overlay.ConnectionInterval, cfg.ConnectionInterval); err != nil {
		return Config{}, err
	}
	if cfg.ConnectionTimeout, err = overlayDuration("connection_timeout", overlay.ConnectionTimeout, cfg.ConnectionTimeout); err != nil {
		return Config{}, err
	}

	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectionInterval, err = durationFromEnv("CONNECTION_CHECK_INTERVAL", cfg.ConnectionInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectionTimeout, err = durationFromEnv("CONNECTION_CHECK_TIMEOUT", cfg.ConnectionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ManifestBackoffBase, err = durationFromEnv("MANIFEST_BACKOFF_BASE", cfg.ManifestBackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.ManifestBackoffCap, err = durationFromEnv("MANIFEST_BACKOFF_CAP", cfg.ManifestBackoffCap)
	if err != nil {
		return Config{}, err
	}
	cfg.ProbeCacheTTL, err = durationFromEnv("PROBE_CACHE_TTL", cfg.ProbeCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.DecisionTimeout, err = durationFromEnv("DECISION_TIMEOUT", cfg.DecisionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ManifestAttempts, err = intFromEnv("MANIFEST_FETCH_ATTEMPTS", cfg.ManifestAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.ProbeCacheSize, err = intFromEnv("PROBE_CACHE_SIZE", cfg.ProbeCacheSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoEnsure, err = boolFromEnv("AUTO_ENSURE", cfg.AutoEnsure)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConnectionInterval < 500*time.Millisecond {
		return Config{}, fmt.Errorf("CONNECTION_CHECK_INTERVAL must be at least 500ms")
	}
	if cfg.ConnectionTimeout <= 0 {
		return Config{}, fmt.Errorf("CONNECTION_CHECK_TIMEOUT must be positive")
	}
	if cfg.ManifestAttempts <= 0 {
		return Config{}, fmt.Errorf("MANIFEST_FETCH_ATTEMPTS must be positive")
	}
	if cfg.ProbeCacheSize <= 0 {
		return Config{}, fmt.Errorf("PROBE_CACHE_SIZE must be positive")
	}
	switch cfg.DecisionMode {
	case DecisionPrompt, DecisionAbort, DecisionRetry:
	default:
		return Config{}, fmt.Errorf("DECISION_MODE must be one of prompt, abort, retry")
	}

	return cfg, nil
}

func loadOverlay(path string) (fileOverlay, error) {
	var overlay fileOverlay
	if path == "" {
		return overlay, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return overlay, fmt.Errorf("CONFIG_FILE %s does not exist", path)
		}
		return overlay, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return overlay, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
	}
	return overlay, nil
}

func overlayDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = trimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config file %s parse error: %w", field, err)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

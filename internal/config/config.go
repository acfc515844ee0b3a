// Package config loads engine configuration from an optional TOML file and
// environment variables, with env taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/tsengko/pulsefeed-sync/internal/logging"
)

// Config holds all engine settings.
type Config struct {
	DataDir       string
	APIBaseURL    string
	ProbeURL      string
	ListenAddr    string
	SyncInterval  time.Duration
	ProbeInterval time.Duration
	HTTPTimeout   time.Duration
	BackoffFloor  time.Duration
	MaxRetries    int
	LogLevel      string
}

// fileConfig mirrors Config for the TOML file; durations are strings in
// time.ParseDuration notation ("15m", "30s").
type fileConfig struct {
	DataDir       string `toml:"data_dir"`
	APIBaseURL    string `toml:"api_base_url"`
	ProbeURL      string `toml:"probe_url"`
	ListenAddr    string `toml:"listen_addr"`
	SyncInterval  string `toml:"sync_interval"`
	ProbeInterval string `toml:"probe_interval"`
	HTTPTimeout   string `toml:"http_timeout"`
	BackoffFloor  string `toml:"backoff_floor"`
	MaxRetries    int    `toml:"max_retries"`
	LogLevel      string `toml:"log_level"`
}

// Default returns the engine defaults.
func Default() *Config {
	return &Config{
		DataDir:       "./data",
		ListenAddr:    "127.0.0.1:8745",
		SyncInterval:  15 * time.Minute,
		ProbeInterval: 30 * time.Second,
		HTTPTimeout:   30 * time.Second,
		BackoffFloor:  30 * time.Second,
		MaxRetries:    3,
		LogLevel:      "INFO",
	}
}

// Load builds a Config from defaults, an optional TOML file, and env vars.
// Path may be empty; PULSEFEED_CONFIG overrides it when set.
func Load(path string) (*Config, error) {
	// .env file is optional; env vars may be set elsewhere.
	if err := godotenv.Load(); err != nil {
		logging.Debug("No .env file loaded", map[string]interface{}{"error": err.Error()})
	}

	cfg := Default()

	if env := os.Getenv("PULSEFEED_CONFIG"); env != "" {
		path = env
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if err := applyFile(cfg, &fc); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("PULSEFEED_API_URL is required")
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.APIBaseURL + "/v1/ping"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffFloor <= 0 || cfg.BackoffFloor > cfg.SyncInterval {
		return nil, fmt.Errorf("backoff floor must be positive and below the sync interval")
	}

	logging.Info("Config loaded", map[string]interface{}{
		"data_dir":      cfg.DataDir,
		"sync_interval": cfg.SyncInterval.String(),
	})
	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) error {
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.APIBaseURL != "" {
		cfg.APIBaseURL = fc.APIBaseURL
	}
	if fc.ProbeURL != "" {
		cfg.ProbeURL = fc.ProbeURL
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.MaxRetries > 0 {
		cfg.MaxRetries = fc.MaxRetries
	}
	durations := []struct {
		dst *time.Duration
		val string
		key string
	}{
		{&cfg.SyncInterval, fc.SyncInterval, "sync_interval"},
		{&cfg.ProbeInterval, fc.ProbeInterval, "probe_interval"},
		{&cfg.HTTPTimeout, fc.HTTPTimeout, "http_timeout"},
		{&cfg.BackoffFloor, fc.BackoffFloor, "backoff_floor"},
	}
	for _, d := range durations {
		if d.val == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("invalid %s in config file: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DataDir, "PULSEFEED_DATA_DIR")
	setString(&cfg.APIBaseURL, "PULSEFEED_API_URL")
	setString(&cfg.ProbeURL, "PULSEFEED_PROBE_URL")
	setString(&cfg.ListenAddr, "PULSEFEED_LISTEN_ADDR")
	setString(&cfg.LogLevel, "PULSEFEED_LOG_LEVEL")
	setDuration(&cfg.SyncInterval, "PULSEFEED_SYNC_INTERVAL")
	setDuration(&cfg.ProbeInterval, "PULSEFEED_PROBE_INTERVAL")
	setDuration(&cfg.HTTPTimeout, "PULSEFEED_HTTP_TIMEOUT")
	setDuration(&cfg.BackoffFloor, "PULSEFEED_BACKOFF_FLOOR")
	setInt(&cfg.MaxRetries, "PULSEFEED_MAX_RETRIES")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			logging.Warn("Ignoring invalid duration", map[string]interface{}{"var": key, "value": v})
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			logging.Warn("Ignoring invalid integer", map[string]interface{}{"var": key, "value": v})
		}
	}
}

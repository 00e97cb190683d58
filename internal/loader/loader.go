// Package loader handles configuration file loading and validation.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the result against documented constraints
//   - Resolving the master key from its configured source
package loader

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agrimon/agrimon/internal/errors"
	"github.com/agrimon/agrimon/internal/validation"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, expanding environment
// variables and applying defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

var validSeverities = map[string]bool{
	"critical": true,
	"warning":  true,
	"info":     true,
	"":         true, // defaulted to warning at rule build time
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if cfg.Monitor.Endpoint == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "monitor.endpoint cannot be empty")
	}
	if !strings.HasPrefix(cfg.Monitor.Endpoint, "ws://") &&
		!strings.HasPrefix(cfg.Monitor.Endpoint, "wss://") {
		return errors.NewInvalidValue("monitor.endpoint", cfg.Monitor.Endpoint,
			"must be a ws:// or wss:// URL")
	}

	if cfg.Security.MasterKeyFile == "" && cfg.Security.MasterKeyEnv == "" {
		return errors.Wrap(errors.ErrInvalidConfig,
			"security requires master_key_file or master_key_env")
	}
	if cfg.Security.MasterKeyFile != "" && cfg.Security.MasterKeyEnv != "" {
		return errors.Wrap(errors.ErrInvalidConfig,
			"security.master_key_file and master_key_env are mutually exclusive")
	}

	if cfg.Buffer.MaxSize <= 0 {
		return errors.NewInvalidValue("buffer.max_size", cfg.Buffer.MaxSize, "must be positive")
	}
	if cfg.Buffer.Retention.Duration() <= 0 {
		return errors.NewInvalidValue("buffer.retention", cfg.Buffer.Retention.Duration(), "must be positive")
	}

	if cfg.Alerts.Workers <= 0 {
		return errors.NewInvalidValue("alerts.workers", cfg.Alerts.Workers, "must be positive")
	}
	for i, rule := range cfg.Alerts.Thresholds {
		if err := validation.ValidateSensorID(rule.SensorID); err != nil {
			return errors.Wrapf(errors.ErrInvalidConfig,
				"alerts.thresholds[%d].sensor_id: %v", i, err)
		}
		if rule.Above == nil && rule.Below == nil {
			return errors.Wrapf(errors.ErrInvalidConfig,
				"alerts.thresholds[%d] needs above or below", i)
		}
		if !validSeverities[rule.Severity] {
			return errors.NewInvalidValue(
				fmt.Sprintf("alerts.thresholds[%d].severity", i),
				rule.Severity, "must be critical, warning, or info")
		}
	}

	if cfg.Store.Path != "" && cfg.Store.RetentionDays <= 0 {
		return errors.NewInvalidValue("store.retention_days", cfg.Store.RetentionDays, "must be positive")
	}

	if cfg.Stats.PercentileAccuracy <= 0 || cfg.Stats.PercentileAccuracy >= 1 {
		return errors.NewInvalidValue("stats.percentile_accuracy",
			cfg.Stats.PercentileAccuracy, "must be in (0, 1)")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.NewInvalidValue("logging.level", cfg.Logging.Level,
			"must be debug, info, warn, or error")
	}

	return nil
}

// =============================================================================
// Master Key
// =============================================================================

// MasterKey resolves the master key from the configured source. A
// hex-encoded key is decoded; anything else is used as raw bytes.
func MasterKey(cfg *SecurityConfig) ([]byte, error) {
	var raw string

	switch {
	case cfg.MasterKeyFile != "":
		data, err := os.ReadFile(cfg.MasterKeyFile)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "read master key: %v", err)
		}
		raw = string(data)
	case cfg.MasterKeyEnv != "":
		raw = os.Getenv(cfg.MasterKeyEnv)
		if raw == "" {
			return nil, errors.Wrapf(errors.ErrInvalidConfig,
				"environment variable %s is empty", cfg.MasterKeyEnv)
		}
	default:
		return nil, errors.Wrap(errors.ErrInvalidConfig, "no master key source configured")
	}

	raw = strings.TrimSpace(raw)
	if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) >= 16 {
		return decoded, nil
	}
	if len(raw) < 16 {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "master key shorter than 16 bytes")
	}
	return []byte(raw), nil
}

// =============================================================================
// Config Watcher
// =============================================================================

// Watcher watches a config file for changes and reloads it.
type Watcher struct {
	path     string
	callback func(*Config, error)
	done     chan struct{}
	modTime  time.Time
}

// NewWatcher creates a new config file watcher. The callback receives
// either the reloaded configuration or the reload error.
func NewWatcher(path string, callback func(*Config, error)) *Watcher {
	return &Watcher{
		path:     path,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching the config file.
func (w *Watcher) Start() {
	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
	}

	go w.watch()
}

// Stop stops watching.
func (w *Watcher) Stop() {
	close(w.done)
}

func (w *Watcher) watch() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}

			if info.ModTime().After(w.modTime) {
				w.modTime = info.ModTime()
				w.callback(Load(w.path))
			}
		}
	}
}

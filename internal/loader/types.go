// Package loader - Configuration Types
//
// Defines the YAML configuration structure for agrimond.
package loader

import (
	"time"

	"github.com/agrimon/agrimon/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for agrimond.
type Config struct {
	// Monitor configures the telemetry feed connection.
	Monitor MonitorConfig `yaml:"monitor"`

	// Security configures key material for decryption and integrity tags.
	Security SecurityConfig `yaml:"security"`

	// Buffer configures the per-sensor in-memory retention buffers.
	Buffer BufferConfig `yaml:"buffer"`

	// Alerts configures threshold rules and evaluation concurrency.
	Alerts AlertsConfig `yaml:"alerts"`

	// Store configures the encrypted persistence layer.
	Store StoreConfig `yaml:"store"`

	// Stats configures on-demand statistics.
	Stats StatsConfig `yaml:"stats"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// MonitorConfig configures the websocket telemetry feed.
type MonitorConfig struct {
	// Endpoint is the feed URL (wss://host/path).
	Endpoint string `yaml:"endpoint"`

	// ReconnectBackoff is the pause before redialing a lost feed.
	// Default: 5s
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`

	// ErrorPause is the pause after a recoverable frame error.
	// Default: 1s
	ErrorPause Duration `yaml:"error_pause"`

	// HandshakeTimeout bounds the TLS + websocket handshake.
	// Default: 30s
	HandshakeTimeout Duration `yaml:"handshake_timeout"`

	// StoreQueueSize is the persistence hand-off channel capacity.
	// Default: 1024
	StoreQueueSize int `yaml:"store_queue_size"`
}

// SecurityConfig locates the master key. Exactly one source must be set;
// the cipher key and tag secret are derived from it.
type SecurityConfig struct {
	// MasterKeyFile is a path to a file holding the master key
	// (hex-encoded or raw bytes).
	MasterKeyFile string `yaml:"master_key_file"`

	// MasterKeyEnv names an environment variable holding the master key.
	MasterKeyEnv string `yaml:"master_key_env"`
}

// BufferConfig configures the per-sensor retention buffers.
type BufferConfig struct {
	// MaxSize is the per-sensor ring capacity. Default: 1000
	MaxSize int `yaml:"max_size"`

	// CleanupInterval is how often age eviction runs. Default: 1h
	CleanupInterval Duration `yaml:"cleanup_interval"`

	// Retention is the age horizon for buffered readings. Default: 168h
	Retention Duration `yaml:"retention"`
}

// AlertsConfig configures alert evaluation.
type AlertsConfig struct {
	// Workers bounds concurrent predicate evaluation. Default: 4
	Workers int `yaml:"workers"`

	// Thresholds are the configured threshold rules.
	Thresholds []ThresholdConfig `yaml:"thresholds"`
}

// ThresholdConfig is one threshold alert rule. At least one of Above or
// Below must be set.
type ThresholdConfig struct {
	// SensorID selects the sensor this rule applies to.
	SensorID string `yaml:"sensor_id"`

	// Above triggers when a reading exceeds this bound.
	Above *float64 `yaml:"above"`

	// Below triggers when a reading falls under this bound.
	Below *float64 `yaml:"below"`

	// Severity is one of critical, warning, info. Default: warning
	Severity string `yaml:"severity"`

	// Message is the alert text. Defaults to a generated description.
	Message string `yaml:"message"`
}

// StoreConfig configures encrypted persistence.
type StoreConfig struct {
	// Path is the database file. Empty disables persistence.
	Path string `yaml:"path"`

	// RetentionDays is how long rows are kept. Default: 30
	RetentionDays int `yaml:"retention_days"`

	// CleanupInterval is how often expired rows are removed. Default: 24h
	CleanupInterval Duration `yaml:"cleanup_interval"`

	// MaxOpenConns caps database connections. Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// QueryTimeout bounds individual queries. Default: 30s
	QueryTimeout Duration `yaml:"query_timeout"`
}

// StatsConfig configures on-demand statistics.
type StatsConfig struct {
	// Percentiles enables DDSketch quantile estimation.
	Percentiles bool `yaml:"percentiles"`

	// PercentileAccuracy is the DDSketch relative accuracy.
	// Default: 0.01
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a Config populated with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			ReconnectBackoff: Duration(config.DefaultReconnectBackoff),
			ErrorPause:       Duration(config.DefaultErrorPause),
			HandshakeTimeout: Duration(config.DefaultHandshakeTimeout),
			StoreQueueSize:   config.DefaultStoreQueueSize,
		},
		Buffer: BufferConfig{
			MaxSize:         config.DefaultBufferMaxSize,
			CleanupInterval: Duration(config.DefaultBufferCleanupInterval),
			Retention:       Duration(config.DefaultBufferRetention),
		},
		Alerts: AlertsConfig{
			Workers: config.DefaultAlertWorkers,
		},
		Store: StoreConfig{
			RetentionDays:   config.DefaultStoreRetentionDays,
			CleanupInterval: Duration(config.DefaultStoreCleanupInterval),
			MaxOpenConns:    config.DefaultStoreMaxOpenConns,
			QueryTimeout:    Duration(config.DefaultStoreQueryTimeout),
		},
		Stats: StatsConfig{
			PercentileAccuracy: config.DefaultPercentileAccuracy,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

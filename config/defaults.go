// Package config provides configuration defaults and utilities
// for the agrimon application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultReconnectBackoff is the pause before redialing a lost feed.
	// Override via config: monitor.reconnect_backoff
	DefaultReconnectBackoff = 5 * time.Second

	// DefaultErrorPause is the pause after a recoverable frame error,
	// keeping a misbehaving feed from spinning the ingest loop.
	// Override via config: monitor.error_pause
	DefaultErrorPause = time.Second

	// DefaultHandshakeTimeout bounds the TLS + websocket handshake.
	// Override via config: monitor.handshake_timeout
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultStoreQueueSize is the capacity of the channel handing
	// accepted readings to the persistence consumer. When full, readings
	// are dropped from persistence (never from the in-memory buffers).
	// Override via config: monitor.store_queue_size
	DefaultStoreQueueSize = 1024
)

// =============================================================================
// Buffer Defaults
// =============================================================================

const (
	// DefaultBufferMaxSize is the per-sensor ring capacity.
	// Override via config: buffer.max_size
	DefaultBufferMaxSize = 1000

	// DefaultBufferCleanupInterval is how often age-based eviction runs.
	// Override via config: buffer.cleanup_interval
	DefaultBufferCleanupInterval = time.Hour

	// DefaultBufferRetention is the age horizon for buffered readings.
	// Override via config: buffer.retention
	DefaultBufferRetention = 7 * 24 * time.Hour
)

// =============================================================================
// Alert Defaults
// =============================================================================

const (
	// DefaultAlertWorkers is the number of concurrent predicate
	// evaluations per reading.
	// Override via config: alerts.workers
	DefaultAlertWorkers = 4
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultStoreRetentionDays is how long persisted readings are kept.
	// Override via config: store.retention_days
	DefaultStoreRetentionDays = 30

	// DefaultStoreCleanupInterval is how often expired rows are removed.
	// Override via config: store.cleanup_interval
	DefaultStoreCleanupInterval = 24 * time.Hour

	// DefaultStoreMaxOpenConns caps database connections. The store is a
	// single-writer embedded database; a small pool is enough.
	// Override via config: store.max_open_conns
	DefaultStoreMaxOpenConns = 4

	// DefaultStoreQueryTimeout bounds individual store queries.
	// Override via config: store.query_timeout
	DefaultStoreQueryTimeout = 30 * time.Second
)

// =============================================================================
// Statistics Defaults
// =============================================================================

const (
	// DefaultPercentileAccuracy is the DDSketch relative accuracy used
	// when percentile estimation is enabled. 0.01 keeps p99 within 1%.
	// Override via config: stats.percentile_accuracy
	DefaultPercentileAccuracy = 0.01
)

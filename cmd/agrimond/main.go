// agrimond is the farm telemetry monitoring daemon.
//
// It connects to an encrypted websocket sensor feed, validates and
// buffers readings, evaluates alert rules, and persists accepted
// readings to an encrypted store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/agrimon/agrimon/internal/alert"
	"github.com/agrimon/agrimon/internal/buffer"
	"github.com/agrimon/agrimon/internal/crypto"
	"github.com/agrimon/agrimon/internal/errors"
	"github.com/agrimon/agrimon/internal/loader"
	"github.com/agrimon/agrimon/internal/logging"
	"github.com/agrimon/agrimon/internal/monitor"
	"github.com/agrimon/agrimon/internal/securestore"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agrimond: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	endpoint := flag.String("endpoint", "", "feed endpoint (overrides config)")
	dbPath := flag.String("db", "", "store database path (overrides config)")
	keyFile := flag.String("key-file", "", "master key file (overrides config)")
	watch := flag.Bool("watch", false, "log when the config file changes on disk")
	flag.Parse()

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI overrides
	if *endpoint != "" {
		cfg.Monitor.Endpoint = *endpoint
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *keyFile != "" {
		cfg.Security = loader.SecurityConfig{MasterKeyFile: *keyFile}
	}
	if err := loader.Validate(cfg); err != nil {
		return err
	}

	logging.Init(parseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	log := logging.Component("agrimond")
	log.Info("starting", "version", Version, "endpoint", cfg.Monitor.Endpoint)

	// =========================================================================
	// Key Material
	// =========================================================================

	master, err := loader.MasterKey(&cfg.Security)
	if err != nil {
		return err
	}
	cipherKey, tagSecret, err := crypto.DeriveKeys(master)
	if err != nil {
		return err
	}

	// =========================================================================
	// Persistence (optional)
	// =========================================================================

	var store *securestore.Store
	if cfg.Store.Path != "" {
		log.Info("opening store", "path", cfg.Store.Path)
		store, err = securestore.Open(securestore.Config{
			Path:         cfg.Store.Path,
			CipherKey:    cipherKey,
			TagSecret:    tagSecret,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			QueryTimeout: cfg.Store.QueryTimeout.Duration(),
		})
		if err != nil {
			return err
		}
		defer store.Close()
	} else {
		log.Info("persistence disabled")
	}

	// =========================================================================
	// Buffers, Alerts, Monitor
	// =========================================================================

	buffers := buffer.NewManager(buffer.Options{
		MaxSize:         cfg.Buffer.MaxSize,
		CleanupInterval: cfg.Buffer.CleanupInterval.Duration(),
		Retention:       cfg.Buffer.Retention.Duration(),
	})

	dispatcher := alert.NewDispatcher(logNotifier{}, logQueue{}, cfg.Alerts.Workers)
	for _, rule := range cfg.Alerts.Thresholds {
		for _, p := range thresholdPredicates(rule) {
			dispatcher.AddPredicate(p)
		}
	}
	log.Info("alert rules loaded", "rules", dispatcher.PredicateCount())

	mon, err := monitor.New(monitor.Config{
		CipherKey:        cipherKey,
		TagSecret:        tagSecret,
		ReconnectBackoff: cfg.Monitor.ReconnectBackoff.Duration(),
		ErrorPause:       cfg.Monitor.ErrorPause.Duration(),
		HandshakeTimeout: cfg.Monitor.HandshakeTimeout.Duration(),
		StoreQueueSize:   cfg.Monitor.StoreQueueSize,
	}, buffers, dispatcher)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mon.Start(ctx, cfg.Monitor.Endpoint); err != nil {
		return err
	}

	// =========================================================================
	// Store Consumer and Housekeeping
	// =========================================================================

	var wg sync.WaitGroup

	if store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range mon.Readings() {
				if _, err := store.StoreReading(ctx, r); err != nil {
					if errors.IsStorage(err) {
						log.Warn("store insert failed", "sensor_id", r.SensorID, "error", err)
					} else {
						// Encryption or validation failure is a
						// configuration problem, not a database hiccup.
						log.Error("store reading", "sensor_id", r.SensorID, "error", err)
					}
				}
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
			ticker := time.NewTicker(cfg.Store.CleanupInterval.Duration())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := store.Cleanup(ctx, retention); err != nil {
						log.Error("store cleanup", "error", err)
					}
				}
			}
		}()
	} else {
		// Nothing consumes the readings channel without a store.
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range mon.Readings() {
			}
		}()
	}

	if *watch {
		watcher := loader.NewWatcher(*cfgPath, func(_ *loader.Config, err error) {
			if err != nil {
				log.Warn("config changed but does not load", "error", err)
				return
			}
			log.Info("config changed on disk; restart to apply")
		})
		watcher.Start()
		defer watcher.Stop()
	}

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	mon.Stop()
	cancel()
	wg.Wait()

	health := mon.HealthCheck()
	log.Info("stopped", "uptime", health.Uptime, "buffers", len(health.BufferSizes))
	return nil
}

// parseLevel maps a config level string to a slog level. Validation has
// already rejected anything else.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// thresholdPredicates builds the alert predicates for one configured
// rule. A rule with both bounds yields two predicates.
func thresholdPredicates(rule loader.ThresholdConfig) []alert.Predicate {
	severity := alert.Severity(rule.Severity)
	if rule.Severity == "" {
		severity = alert.SeverityWarning
	}

	var preds []alert.Predicate
	if rule.Above != nil {
		msg := rule.Message
		if msg == "" {
			msg = fmt.Sprintf("%s above %g", rule.SensorID, *rule.Above)
		}
		preds = append(preds, alert.Threshold(rule.SensorID, *rule.Above, true, severity, msg))
	}
	if rule.Below != nil {
		msg := rule.Message
		if msg == "" {
			msg = fmt.Sprintf("%s below %g", rule.SensorID, *rule.Below)
		}
		preds = append(preds, alert.Threshold(rule.SensorID, *rule.Below, false, severity, msg))
	}
	return preds
}

// logNotifier reports critical events through the structured log. A
// deployment with a paging integration replaces this.
type logNotifier struct{}

func (logNotifier) Notify(ev alert.Event) {
	logging.Error("critical alert",
		"alert_id", ev.ID,
		"sensor_id", ev.SensorID,
		"message", ev.Message,
		"value", ev.Value)
}

// logQueue reports non-critical events through the structured log.
type logQueue struct{}

func (logQueue) Enqueue(ev alert.Event) {
	logging.Warn("alert queued",
		"alert_id", ev.ID,
		"severity", ev.Severity,
		"sensor_id", ev.SensorID,
		"message", ev.Message,
		"value", ev.Value)
}

// Package securestore persists validated sensor readings in a DuckDB
// database with per-row AES-GCM encryption of values and metadata and an
// HMAC-SHA256 integrity tag over each row's identifying fields.
//
// Values are encrypted as their canonical string form, not as raw float
// bits, so decrypting and recomputing a row's tag reproduces the stored
// tag exactly.
package securestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/agrimon/agrimon/internal/crypto"
	"github.com/agrimon/agrimon/internal/errors"
	"github.com/agrimon/agrimon/internal/logging"
	"github.com/agrimon/agrimon/internal/stats"
	"github.com/agrimon/agrimon/internal/telemetry"
	"github.com/agrimon/agrimon/internal/validation"
)

var log = logging.Component("securestore")

// Config holds store configuration options.
type Config struct {
	// Path is the database file path. Empty opens an in-memory database.
	Path string

	// CipherKey is the 32-byte AES-256-GCM key for row encryption.
	CipherKey []byte

	// TagSecret keys the per-row HMAC-SHA256 integrity tags.
	TagSecret []byte

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// QueryTimeout is the default timeout for queries.
	QueryTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults. CipherKey and
// TagSecret must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns: 4,
		QueryTimeout: 30 * time.Second,
	}
}

// DataPoint is one stored measurement. Metadata is an arbitrary string
// map persisted encrypted alongside the value (confidence, calibration
// date, batch identifiers).
type DataPoint struct {
	Timestamp time.Time
	SensorID  string
	Value     float64
	Unit      string
	Metadata  map[string]string

	// Checksum, when set on input, is verified against the recomputed
	// row tag before the point is accepted. On output it carries the
	// stored tag.
	Checksum string
}

// Bucket is one time-bucketed aggregate returned by AggregatedData.
type Bucket struct {
	Period  string
	Summary stats.Statistics
}

// Store provides encrypted persistence for sensor readings.
//
// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	cipher *crypto.Cipher
	secret []byte
	config Config

	mu     sync.RWMutex
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS sensor_data (
	timestamp TEXT NOT NULL,
	sensor_id TEXT NOT NULL,
	encrypted_value BLOB NOT NULL,
	unit TEXT NOT NULL,
	encrypted_metadata BLOB,
	checksum TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensor_data_timestamp ON sensor_data (timestamp);
CREATE INDEX IF NOT EXISTS idx_sensor_data_sensor ON sensor_data (sensor_id);
`

// Open creates a Store backed by the configured DuckDB database,
// creating the schema if needed.
func Open(cfg Config) (*Store, error) {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = DefaultConfig().MaxOpenConns
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}
	if len(cfg.TagSecret) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "tag secret is empty")
	}

	cipher, err := crypto.NewCipher(cfg.CipherKey)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.ErrStorage, "ping database: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.ErrStorage, "create schema: %v", err)
	}

	return &Store{
		db:     db,
		cipher: cipher,
		secret: cfg.TagSecret,
		config: cfg,
	}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// rowTag computes the integrity tag over a row's identifying fields.
// Unlike the wire-level reading tag, the stored order is
// timestamp, sensor id, value, unit.
func (s *Store) rowTag(timestamp, sensorID, value, unit string) string {
	return crypto.ChecksumHex(s.secret, []byte(timestamp+sensorID+value+unit))
}

// Store persists one data point. The point's Checksum must match the
// recomputed row tag; a missing or mismatching tag rejects the point:
// it is dropped, logged, and (false, nil) is returned. Errors are
// reserved for encryption and database failures.
func (s *Store) Store(ctx context.Context, p DataPoint) (bool, error) {
	tsCanon := telemetry.CanonicalTimestamp(p.Timestamp)
	valCanon := telemetry.CanonicalValue(p.Value)
	tag := s.rowTag(tsCanon, p.SensorID, valCanon, p.Unit)

	if !crypto.VerifyChecksumHex(s.secret, []byte(tsCanon+p.SensorID+valCanon+p.Unit), p.Checksum) {
		log.Warn("rejecting data point with missing or bad checksum",
			"sensor_id", p.SensorID,
			"timestamp", tsCanon)
		return false, nil
	}

	encValue, err := s.cipher.Encrypt([]byte(valCanon))
	if err != nil {
		return false, err
	}

	var encMeta []byte
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return false, errors.Wrapf(errors.ErrStorage, "encode metadata: %v", err)
		}
		encMeta, err = s.cipher.Encrypt(raw)
		if err != nil {
			return false, err
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sensor_data
		 (timestamp, sensor_id, encrypted_value, unit, encrypted_metadata, checksum, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tsCanon, p.SensorID, encValue, p.Unit, encMeta, tag,
		telemetry.CanonicalTimestamp(time.Now()))
	if err != nil {
		return false, errors.Wrapf(errors.ErrStorage, "insert data point: %v", err)
	}

	return true, nil
}

// StoreReading persists a validated reading, carrying its confidence and
// calibration date as encrypted metadata. The reading's own wire
// checksum covers a different field order, so the row tag is computed
// here; Store verifies it again at its own boundary.
func (s *Store) StoreReading(ctx context.Context, r telemetry.SensorReading) (bool, error) {
	if !r.Validated {
		return false, errors.Wrapf(errors.ErrNotValidated, "sensor %s", r.SensorID)
	}

	meta := map[string]string{
		"confidence": telemetry.CanonicalValue(r.Confidence),
	}
	if !r.CalibrationDate.IsZero() {
		meta["calibration_date"] = r.CalibrationDate.UTC().Format("2006-01-02")
	}

	return s.Store(ctx, DataPoint{
		Timestamp: r.Timestamp,
		SensorID:  r.SensorID,
		Value:     r.Value,
		Unit:      r.Unit,
		Checksum: s.rowTag(
			telemetry.CanonicalTimestamp(r.Timestamp),
			r.SensorID,
			telemetry.CanonicalValue(r.Value),
			r.Unit),
		Metadata: meta,
	})
}

// DataPoints returns the decrypted points for a sensor within
// [start, end], oldest first.
func (s *Store) DataPoints(ctx context.Context, sensorID string, start, end time.Time) ([]DataPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	// Timestamps are stored as their canonical UTC strings, whose
	// fractional-second width varies; compare as timestamps, not text.
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, sensor_id, encrypted_value, unit, encrypted_metadata, checksum
		 FROM sensor_data
		 WHERE sensor_id = ?
		   AND CAST(timestamp AS TIMESTAMP) >= CAST(? AS TIMESTAMP)
		   AND CAST(timestamp AS TIMESTAMP) <= CAST(? AS TIMESTAMP)
		 ORDER BY CAST(timestamp AS TIMESTAMP) ASC`,
		sensorID,
		telemetry.CanonicalTimestamp(start),
		telemetry.CanonicalTimestamp(end))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query data points: %v", err)
	}
	defer rows.Close()

	var points []DataPoint
	for rows.Next() {
		p, err := s.scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "iterate data points: %v", err)
	}
	return points, nil
}

func (s *Store) scanPoint(rows *sql.Rows) (DataPoint, error) {
	var (
		tsRaw, sensorID, unit, checksum string
		encValue, encMeta               []byte
	)
	if err := rows.Scan(&tsRaw, &sensorID, &encValue, &unit, &encMeta, &checksum); err != nil {
		return DataPoint{}, errors.Wrapf(errors.ErrStorage, "scan row: %v", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return DataPoint{}, errors.Wrapf(errors.ErrStorage, "parse stored timestamp %q: %v", tsRaw, err)
	}

	valRaw, err := s.cipher.Decrypt(encValue)
	if err != nil {
		return DataPoint{}, err
	}
	value, err := strconv.ParseFloat(string(valRaw), 64)
	if err != nil {
		return DataPoint{}, errors.Wrapf(errors.ErrStorage, "parse stored value %q: %v", valRaw, err)
	}

	var meta map[string]string
	if len(encMeta) > 0 {
		metaRaw, err := s.cipher.Decrypt(encMeta)
		if err != nil {
			return DataPoint{}, err
		}
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return DataPoint{}, errors.Wrapf(errors.ErrStorage, "decode metadata: %v", err)
		}
	}

	return DataPoint{
		Timestamp: ts,
		SensorID:  sensorID,
		Value:     value,
		Unit:      unit,
		Metadata:  meta,
		Checksum:  checksum,
	}, nil
}

// Statistics computes the descriptive summary of a sensor's stored
// values within the trailing window. An empty window yields a
// zero-Count summary.
func (s *Store) Statistics(ctx context.Context, sensorID string, window time.Duration) (stats.Statistics, error) {
	end := time.Now()
	points, err := s.DataPoints(ctx, sensorID, end.Add(-window), end)
	if err != nil {
		return stats.Statistics{}, err
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return stats.Summarize(values), nil
}

// Aggregation intervals for AggregatedData.
const (
	IntervalHour = "hour"
	IntervalDay  = "day"
)

// AggregatedData groups a sensor's stored values into hourly or daily
// buckets and summarizes each bucket. Buckets are returned oldest first.
func (s *Store) AggregatedData(ctx context.Context, sensorID string, start, end time.Time, interval string) ([]Bucket, error) {
	var format string
	switch interval {
	case IntervalHour:
		format = "%Y-%m-%d %H:00"
	case IntervalDay:
		format = "%Y-%m-%d"
	default:
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "unknown aggregation interval %q", interval)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	// Grouping happens application-side: the values are encrypted, so
	// SQL can only assign each row to its bucket.
	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime(CAST(timestamp AS TIMESTAMP), ?) AS period, encrypted_value
		 FROM sensor_data
		 WHERE sensor_id = ?
		   AND CAST(timestamp AS TIMESTAMP) >= CAST(? AS TIMESTAMP)
		   AND CAST(timestamp AS TIMESTAMP) <= CAST(? AS TIMESTAMP)
		 ORDER BY CAST(timestamp AS TIMESTAMP) ASC`,
		format, sensorID,
		telemetry.CanonicalTimestamp(start),
		telemetry.CanonicalTimestamp(end))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query aggregates: %v", err)
	}
	defer rows.Close()

	var (
		buckets []Bucket
		period  string
		values  []float64
	)
	flush := func() {
		if len(values) == 0 {
			return
		}
		buckets = append(buckets, Bucket{Period: period, Summary: stats.Summarize(values)})
		values = values[:0]
	}

	for rows.Next() {
		var (
			rowPeriod string
			encValue  []byte
		)
		if err := rows.Scan(&rowPeriod, &encValue); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "scan aggregate row: %v", err)
		}
		valRaw, err := s.cipher.Decrypt(encValue)
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseFloat(string(valRaw), 64)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "parse stored value %q: %v", valRaw, err)
		}

		if rowPeriod != period {
			flush()
			period = rowPeriod
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "iterate aggregate rows: %v", err)
	}
	flush()

	return buckets, nil
}

// VerifyIntegrity decrypts every stored row and recomputes its tag,
// stopping at the first mismatch. It returns false when any row fails,
// with the offending row logged; errors are reserved for database
// failures.
func (s *Store) VerifyIntegrity(ctx context.Context) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, sensor_id, encrypted_value, unit, checksum FROM sensor_data`)
	if err != nil {
		return false, errors.Wrapf(errors.ErrStorage, "query rows: %v", err)
	}
	defer rows.Close()

	checked := 0
	for rows.Next() {
		var (
			tsRaw, sensorID, unit, checksum string
			encValue                        []byte
		)
		if err := rows.Scan(&tsRaw, &sensorID, &encValue, &unit, &checksum); err != nil {
			return false, errors.Wrapf(errors.ErrStorage, "scan row: %v", err)
		}

		valRaw, err := s.cipher.Decrypt(encValue)
		if err != nil {
			log.Error("integrity check: undecryptable value",
				"sensor_id", sensorID,
				"timestamp", tsRaw,
				"error", err)
			return false, nil
		}

		if tag := s.rowTag(tsRaw, sensorID, string(valRaw), unit); tag != checksum {
			log.Error("integrity check: checksum mismatch",
				"sensor_id", sensorID,
				"timestamp", tsRaw)
			return false, nil
		}
		checked++
	}
	if err := rows.Err(); err != nil {
		return false, errors.Wrapf(errors.ErrStorage, "iterate rows: %v", err)
	}

	log.Info("integrity check passed", "rows", checked)
	return true, nil
}

// Backup copies the database into a new DuckDB file at path. The copy
// runs inside the database engine, so it also works for in-memory
// stores.
func (s *Store) Backup(ctx context.Context, path string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "acquire connection: %v", err)
	}
	defer conn.Close()

	var catalog string
	if err := conn.QueryRowContext(ctx, `SELECT current_database()`).Scan(&catalog); err != nil {
		return errors.Wrapf(errors.ErrStorage, "resolve catalog: %v", err)
	}

	escaped := strings.ReplaceAll(path, "'", "''")
	steps := []string{
		fmt.Sprintf("ATTACH '%s' AS backup_target", escaped),
		fmt.Sprintf("COPY FROM DATABASE %q TO backup_target", catalog),
		"DETACH backup_target",
	}
	for _, stmt := range steps {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(errors.ErrStorage, "backup to %s: %v", path, err)
		}
	}

	log.Info("backup written", "path", path)
	return nil
}

// Cleanup deletes rows older than the retention horizon and returns how
// many were removed.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := telemetry.CanonicalTimestamp(time.Now().Add(-retention))

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sensor_data
		 WHERE CAST(timestamp AS TIMESTAMP) < CAST(? AS TIMESTAMP)`, cutoff)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "delete expired rows: %v", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "count deleted rows: %v", err)
	}

	if deleted > 0 {
		log.Info("expired rows removed", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// Count returns the number of stored rows, optionally filtered by
// sensor.
func (s *Store) Count(ctx context.Context, sensorID string) (int64, error) {
	var (
		n   int64
		err error
	)
	if sensorID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM sensor_data`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM sensor_data WHERE sensor_id = ?`, sensorID).Scan(&n)
	}
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "count rows: %v", err)
	}
	return n, nil
}

// Sensors returns the distinct sensor ids present in the store.
func (s *Store) Sensors(ctx context.Context) ([]string, error) {
	return s.querySensors(ctx,
		`SELECT DISTINCT sensor_id FROM sensor_data ORDER BY sensor_id`)
}

// SensorsByPrefix returns the distinct sensor ids starting with prefix.
func (s *Store) SensorsByPrefix(ctx context.Context, prefix string) ([]string, error) {
	return s.querySensors(ctx,
		`SELECT DISTINCT sensor_id FROM sensor_data
		 WHERE sensor_id LIKE ? ESCAPE '\'
		 ORDER BY sensor_id`,
		validation.SafeLikePrefix(prefix))
}

func (s *Store) querySensors(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query sensors: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "scan sensor id: %v", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

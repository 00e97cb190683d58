// Package telemetry defines the sensor reading value type and the codec
// that turns encrypted stream frames into validated readings.
package telemetry

import (
	"strconv"
	"time"

	"github.com/agrimon/agrimon/internal/crypto"
)

// SensorReading is a single validated measurement from field equipment.
//
// A reading is immutable after construction except for the Validated flag,
// which Validate sets once the integrity tag has been verified.
type SensorReading struct {
	Timestamp       time.Time
	Value           float64
	Unit            string
	SensorID        string
	Checksum        string
	Confidence      float64
	CalibrationDate time.Time
	Validated       bool
}

// CanonicalTimestamp is the timestamp encoding covered by integrity tags:
// UTC RFC 3339 with nanoseconds omitted when zero. Producers must compute
// checksums over this exact form.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CanonicalValue is the numeric encoding covered by integrity tags:
// the shortest decimal representation that round-trips a float64.
func CanonicalValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// tagInput assembles the byte string the reading's tag is computed over:
// timestamp, value, unit, sensor ID, concatenated in that order.
func (r *SensorReading) tagInput() []byte {
	s := CanonicalTimestamp(r.Timestamp) + CanonicalValue(r.Value) + r.Unit + r.SensorID
	return []byte(s)
}

// ComputeChecksum returns the HMAC-SHA256 tag a producer should attach to
// a reading with these fields.
func ComputeChecksum(secret []byte, timestamp time.Time, value float64, unit, sensorID string) string {
	s := CanonicalTimestamp(timestamp) + CanonicalValue(value) + unit + sensorID
	return crypto.ChecksumHex(secret, []byte(s))
}

// Validate verifies the reading's integrity tag against the given secret
// using a constant-time comparison. The Validated flag is set to the
// result and returned.
func (r *SensorReading) Validate(secret []byte) bool {
	r.Validated = crypto.VerifyChecksumHex(secret, r.tagInput(), r.Checksum)
	return r.Validated
}

// Age returns how old the reading is relative to now.
func (r *SensorReading) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

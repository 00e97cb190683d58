package telemetry

import (
	"encoding/json"
	"strconv"

	"github.com/relvacode/iso8601"

	"github.com/agrimon/agrimon/internal/crypto"
	"github.com/agrimon/agrimon/internal/errors"
	"github.com/agrimon/agrimon/internal/validation"
)

// Envelope is the logical telemetry message carried by one stream frame.
// Timestamps are ISO 8601 strings; value is sent as a JSON number or a
// numeric string, both are accepted.
type Envelope struct {
	Timestamp       string      `json:"timestamp"`
	Value           json.Number `json:"value"`
	Unit            string      `json:"unit"`
	SensorID        string      `json:"sensor_id"`
	Checksum        string      `json:"checksum"`
	Confidence      float64     `json:"confidence"`
	CalibrationDate string      `json:"calibration_date"`
}

// Codec decrypts inbound frames and parses them into sensor readings.
// It holds the payload cipher; integrity verification is the caller's
// step via SensorReading.Validate.
type Codec struct {
	cipher *crypto.Cipher
}

// NewCodec creates a Codec with the given payload cipher key.
func NewCodec(cipherKey []byte) (*Codec, error) {
	c, err := crypto.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}
	return &Codec{cipher: c}, nil
}

// Decode decrypts one frame and parses the contained envelope.
// Decryption failures surface as encryption errors; malformed or missing
// fields surface as parse errors. The returned reading is not yet
// validated.
func (c *Codec) Decode(frame []byte) (SensorReading, error) {
	plaintext, err := c.cipher.Decrypt(frame)
	if err != nil {
		return SensorReading{}, err
	}
	return c.decodePlain(plaintext)
}

// DecodePlain parses an unencrypted envelope. Used by tests and by
// trusted local producers.
func (c *Codec) DecodePlain(payload []byte) (SensorReading, error) {
	return c.decodePlain(payload)
}

func (c *Codec) decodePlain(payload []byte) (SensorReading, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return SensorReading{}, errors.Wrap(errors.ErrParse, err.Error())
	}
	return env.Reading()
}

// Reading converts the envelope to a SensorReading, checking required
// fields and parsing timestamps and the numeric value.
func (e *Envelope) Reading() (SensorReading, error) {
	switch {
	case e.Timestamp == "":
		return SensorReading{}, errors.NewMissingField("timestamp")
	case e.SensorID == "":
		return SensorReading{}, errors.NewMissingField("sensor_id")
	case e.Unit == "":
		return SensorReading{}, errors.NewMissingField("unit")
	case e.Checksum == "":
		return SensorReading{}, errors.NewMissingField("checksum")
	case e.Value == "":
		return SensorReading{}, errors.NewMissingField("value")
	}

	if err := validation.ValidateSensorID(e.SensorID); err != nil {
		return SensorReading{}, errors.NewParse("sensor_id", err.Error())
	}
	if err := validation.ValidateUnit(e.Unit); err != nil {
		return SensorReading{}, errors.NewParse("unit", err.Error())
	}

	ts, err := iso8601.ParseString(e.Timestamp)
	if err != nil {
		return SensorReading{}, errors.Wrapf(errors.ErrInvalidTimestamp, "timestamp %q", e.Timestamp)
	}

	value, err := strconv.ParseFloat(e.Value.String(), 64)
	if err != nil {
		return SensorReading{}, errors.Wrapf(errors.ErrInvalidValue, "value %q", e.Value.String())
	}

	reading := SensorReading{
		Timestamp:  ts,
		Value:      value,
		Unit:       e.Unit,
		SensorID:   e.SensorID,
		Checksum:   e.Checksum,
		Confidence: e.Confidence,
	}

	// Calibration date is informational; absent is fine, garbage is not.
	if e.CalibrationDate != "" {
		cal, err := iso8601.ParseString(e.CalibrationDate)
		if err != nil {
			return SensorReading{}, errors.Wrapf(errors.ErrInvalidTimestamp, "calibration_date %q", e.CalibrationDate)
		}
		reading.CalibrationDate = cal
	}

	return reading, nil
}

// Encode builds the encrypted frame for a reading. The checksum is
// computed from the canonical field encodings so the receiver's Validate
// succeeds. Primarily used by tests and stream simulators.
func (c *Codec) Encode(secret []byte, r SensorReading) ([]byte, error) {
	env := Envelope{
		Timestamp:  CanonicalTimestamp(r.Timestamp),
		Value:      json.Number(CanonicalValue(r.Value)),
		Unit:       r.Unit,
		SensorID:   r.SensorID,
		Checksum:   ComputeChecksum(secret, r.Timestamp, r.Value, r.Unit, r.SensorID),
		Confidence: r.Confidence,
	}
	if !r.CalibrationDate.IsZero() {
		env.CalibrationDate = CanonicalTimestamp(r.CalibrationDate)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(errors.ErrParse, err.Error())
	}
	return c.cipher.Encrypt(payload)
}

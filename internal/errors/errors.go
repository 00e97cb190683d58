// Package errors consolidates error definitions for the agrimon telemetry core.
//
// This package provides:
// - Sentinel errors for every error condition the pipeline distinguishes
// - Category checking functions mirroring the recovery policy
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Envelope / codec errors. A frame that fails to parse is dropped and
	// logged; the ingestion loop keeps running.
	ErrParse            = errors.New("malformed envelope")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidTimestamp = errors.New("unparsable timestamp")
	ErrInvalidValue     = errors.New("non-numeric value")

	// Integrity errors. A reading whose authentication tag does not match
	// is dropped; a stored record whose tag does not match fails the audit.
	ErrIntegrity    = errors.New("integrity tag mismatch")
	ErrNotValidated = errors.New("reading not validated")

	// Connection errors. The ingestion loop reconnects with fixed backoff.
	ErrConnection       = errors.New("connection failed")
	ErrConnectionClosed = errors.New("connection closed")

	// Encryption errors indicate a key or cipher configuration problem.
	// There is no recovery; they propagate to the caller.
	ErrEncryption       = errors.New("encryption error")
	ErrInvalidKeyLength = errors.New("invalid key length")

	// Storage errors are logged and reported as operation failure.
	ErrStorage = errors.New("storage error")

	// State errors
	ErrInvalidState   = errors.New("invalid state")
	ErrMonitorRunning = errors.New("monitor is already running")

	// Validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsParse returns true if err is a parse/codec error.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidValue)
}

// IsIntegrity returns true if err is an integrity error.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrNotValidated)
}

// IsConnection returns true if err is a connection error.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrConnectionClosed)
}

// IsEncryption returns true if err is an encryption/key error.
func IsEncryption(err error) bool {
	return errors.Is(err, ErrEncryption) ||
		errors.Is(err, ErrInvalidKeyLength)
}

// IsStorage returns true if err is a durable-store error.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsRecoverable returns true if the ingestion loop recovers from err
// locally (drop the frame or reconnect) rather than terminating.
// Encryption errors are configuration problems and are never recoverable.
func IsRecoverable(err error) bool {
	return IsParse(err) || IsIntegrity(err) || IsConnection(err)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewParse creates a parse error with field context.
func NewParse(field, reason string) error {
	return fmt.Errorf("field %s: %s: %w", field, reason, ErrParse)
}

// NewInvalidValue creates an invalid configuration value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

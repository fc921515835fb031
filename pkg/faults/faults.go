// Package faults defines the error kinds shared across the sentry pipeline.
//
// Device and configuration errors end the session. Detector timeouts and
// malformed detector output are absorbed by the engine and only degrade the
// set of active signals.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for each error kind.
var (
	// ErrDeviceUnavailable is returned when a camera or microphone is denied or absent.
	ErrDeviceUnavailable = errors.New("sentry: device unavailable")

	// ErrDetectorTimeout is returned when a perception collaborator overruns its budget.
	ErrDetectorTimeout = errors.New("sentry: detector timeout")

	// ErrMalformedDetection is returned for detector output missing expected fields.
	ErrMalformedDetection = errors.New("sentry: malformed detection data")

	// ErrConfiguration is returned for invalid settings.
	ErrConfiguration = errors.New("sentry: invalid configuration")
)

// DeviceError wraps an error with the device it came from.
type DeviceError struct {
	Device string
	Err    error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s unavailable: %v", e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is reports DeviceError as ErrDeviceUnavailable.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceUnavailable
}

// Device wraps err as a DeviceError. Returns nil when err is nil.
func Device(device string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{Device: device, Err: err}
}

// FieldError describes one invalid setting.
type FieldError struct {
	Field  string
	Reason string
}

// ConfigError collects every invalid setting found during validation.
type ConfigError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Is reports ConfigError as ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// Add records an invalid field.
func (e *ConfigError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// Merge appends the fields of other when it is a ConfigError, or records it
// under prefix. Fields already recorded are not repeated.
func (e *ConfigError) Merge(prefix string, other error) {
	if other == nil {
		return
	}
	var ce *ConfigError
	if errors.As(other, &ce) {
		for _, f := range ce.Fields {
			field := f.Field
			if prefix != "" {
				field = prefix + "." + field
			}
			if !e.Has(field) {
				e.Fields = append(e.Fields, FieldError{Field: field, Reason: f.Reason})
			}
		}
		return
	}
	e.Add(prefix, "%v", other)
}

// Has reports whether field was recorded.
func (e *ConfigError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Err returns e when any field was recorded, otherwise nil.
func (e *ConfigError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// IsFatal reports whether err should end the session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrConfiguration)
}

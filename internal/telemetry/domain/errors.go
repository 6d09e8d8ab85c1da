package telemetry

import "errors"

var (
	// ErrInvalidInput marks malformed or out-of-range telemetry fields.
	ErrInvalidInput = errors.New("invalid telemetry input")

	// ErrNotFound marks a lookup with no current value.
	ErrNotFound = errors.New("telemetry not found")

	// ErrCapacityExceeded marks a batch larger than the accepted maximum.
	ErrCapacityExceeded = errors.New("telemetry batch capacity exceeded")
)

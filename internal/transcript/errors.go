package transcript

import "errors"

var (
	// ErrNoTimestamp is returned when a line has no timestamp field.
	ErrNoTimestamp = errors.New("line has no timestamp")

	// ErrInvalidTimestamp is returned when a timestamp matches no known layout.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

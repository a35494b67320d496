package config

import "errors"

// ValidationError is returned by Validate for a single configuration
// problem detected at startup; any such error aborts startup with a
// non-zero exit code.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// ErrUnsupportedDriver is returned when a StorageDriver is named but has no
// wired implementation (currently: MySQL — see DESIGN.md).
var ErrUnsupportedDriver = errors.New("config: storage driver has no wired implementation")

// ErrUnsupportedCompression is returned when a CompressionKind is named but
// has no wired codec (currently: lz4 — see DESIGN.md).
var ErrUnsupportedCompression = errors.New("config: compression kind has no wired codec")

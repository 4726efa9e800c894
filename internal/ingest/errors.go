package ingest

import "errors"

// Sentinel errors shared across stores and services.
var (
	// ErrNotFound indicates a record lookup matched nothing.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidID indicates a malformed identifier, rejected before any
	// store access.
	ErrInvalidID = errors.New("invalid id format")

	// ErrInvalidState indicates a status-gated transition was attempted
	// from the wrong state.
	ErrInvalidState = errors.New("invalid job state")

	// ErrNotRunning indicates a cancel on a job that already reached a
	// terminal status.
	ErrNotRunning = errors.New("job cannot be cancelled (not running)")
)

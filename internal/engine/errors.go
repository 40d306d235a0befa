package engine

import "errors"

// Common adapter errors.
var (
	// ErrForeignHandle is returned when a handle was issued by another engine.
	ErrForeignHandle = errors.New("handle was not issued by this engine")

	// ErrHandleClosed is returned when a handle has already been shut down.
	ErrHandleClosed = errors.New("handle has been shut down")

	// ErrNoWorker is returned when a handle has no background worker to swap.
	ErrNoWorker = errors.New("handle has no background worker")
)

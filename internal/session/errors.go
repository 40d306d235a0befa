package session

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/decwav/internal/engine"
)

// ErrInvalidState is returned when an operation is not valid in the current
// session state.
var ErrInvalidState = errors.New("invalid session state for operation")

// Class tells the caller how far a failure reaches.
type Class int

const (
	// ClassFatal failures leave no usable handle: startup, license reset
	// and shutdown.
	ClassFatal Class = iota
	// ClassRequest failures are confined to one request. The handle stays
	// usable.
	ClassRequest
	// ClassStateUnknown failures leave the engine in a state that cannot be
	// trusted. The handle must be shut down.
	ClassStateUnknown
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassRequest:
		return "request"
	case ClassStateUnknown:
		return "state unknown"
	default:
		return "unknown"
	}
}

// OpError reports a failed engine operation.
type OpError struct {
	// Op is the failing operation, one of the engine.Op constants.
	Op string

	// Code is the native code the engine returned.
	Code engine.Code

	// Class classifies the failure.
	Class Class

	// Cleanup is set when closing the output after the failure also failed.
	Cleanup *OpError
}

// Error implements the error interface.
func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s returned code %d", e.Op, uint32(e.Code))
	if e.Cleanup != nil {
		msg += "; " + e.Cleanup.Error()
	}
	return msg
}

// ClassOf returns the class of err. Errors that are not an OpError are
// fatal.
func ClassOf(err error) Class {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Class
	}
	return ClassFatal
}

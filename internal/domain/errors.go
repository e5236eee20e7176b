package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the session registry and lifecycle layers.
var (
	// ErrDuplicateSession is returned when a session already exists for a call SID.
	ErrDuplicateSession = errors.New("session already exists for call")

	// ErrSessionNotFound is returned when no session is registered for a call SID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition is returned when a lifecycle transition is not allowed
	// from the current state. Callers treat this as a benign conflict.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTranscriptAlreadySet is returned when a termination payload targets a
	// session whose transcript has already been recorded.
	ErrTranscriptAlreadySet = errors.New("transcript already recorded")
)

// TransportError wraps a fatal read or write failure on one side of the relay.
type TransportError struct {
	Side string // "telephony" or "agent"
	Op   string // "read" or "write"
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport %s failed: %v", e.Side, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError builds a TransportError for the given side and operation.
func NewTransportError(side, op string, err error) *TransportError {
	return &TransportError{Side: side, Op: op, Err: err}
}

// InitiationError carries the provider's rejection reason for a failed
// outbound call request. No session exists when this is returned.
type InitiationError struct {
	StatusCode int
	Reason     string
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("outbound call initiation rejected (status %d): %s", e.StatusCode, e.Reason)
}

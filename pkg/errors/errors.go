package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the client.
var (
	// ErrNotFound marks an entity that is no longer (or was never) known to
	// the backend. Deletes treat it as success.
	ErrNotFound = errors.New("not found")

	// ErrNotConnected is returned when an outbound send is attempted while
	// the stream connection is not open.
	ErrNotConnected = errors.New("stream not connected")

	// ErrSessionClosed is returned by operations invoked after a room
	// session (or one of its stores) has been torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrRetriesExhausted signals that automatic reconnection gave up after
	// the configured number of attempts.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// ValidationDetail is one entry of a backend validation failure payload.
type ValidationDetail struct {
	Msg string `json:"msg"`
}

// PersistError reports a failed REST call. The optimistic record that
// triggered the call is left untouched by the store, so callers can retry or
// discard it explicitly.
type PersistError struct {
	Op         string
	StatusCode int
	Details    []ValidationDetail
	Internal   error
}

func (e *PersistError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: request failed (status %d)", e.Op, e.StatusCode)
	if detail := e.Detail(); detail != "" {
		msg += ": " + detail
	}
	if e.Internal != nil {
		msg += ": " + e.Internal.Error()
	}
	return msg
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *PersistError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Detail concatenates the validation messages into a user-facing string.
func (e *PersistError) Detail() string {
	if e == nil || len(e.Details) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		if d.Msg != "" {
			parts = append(parts, d.Msg)
		}
	}
	return strings.Join(parts, "; ")
}

// ConnectionError wraps a transient stream failure. It drives reconnection
// and is never surfaced to callers as a fatal condition.
type ConnectionError struct {
	Endpoint string
	Internal error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Internal != nil {
		return fmt.Sprintf("stream %s: %v", e.Endpoint, e.Internal)
	}
	return fmt.Sprintf("stream %s: connection error", e.Endpoint)
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// DecodeError reports a frame that could not be parsed. Malformed frames are
// logged and dropped; they never terminate the connection.
type DecodeError struct {
	Reason   string
	Internal error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Internal != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Internal)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// NewPersist builds a PersistError for the named operation.
func NewPersist(op string, statusCode int, details []ValidationDetail) *PersistError {
	return &PersistError{
		Op:         op,
		StatusCode: statusCode,
		Details:    details,
	}
}

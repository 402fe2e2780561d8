package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRejected is returned when the service refuses the credentials at handshake.
	// It is not retried.
	ErrAuthRejected = errors.New("authentication rejected by generator service")

	// ErrNotConnected is returned by Send when there is no live connection.
	ErrNotConnected = errors.New("not connected to generator service")
)

// TransientConnectError is a handshake failure that is retried after the retry delay.
type TransientConnectError struct {
	URL        string
	StatusCode int // zero when no HTTP response was received
	Err        error
}

func (e *TransientConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connect %s: handshake status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *TransientConnectError) Unwrap() error { return e.Err }

// TransportReadError is a receive failure on an established connection.
// It is the cause passed to connection-error handlers.
type TransportReadError struct {
	SessionID string
	Err       error
}

func (e *TransportReadError) Error() string {
	return fmt.Sprintf("session %s: read: %v", e.SessionID, e.Err)
}

func (e *TransportReadError) Unwrap() error { return e.Err }

// TransportError is a write failure on an established connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

package gateway

import (
	"context"
	"net/http"
)

// Conn is one established message-oriented connection. ReadMessage is called
// from a single goroutine; WriteMessage calls are serialized by the caller.
// Close and Ping may be called concurrently with either.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens connections. Implementations return an error wrapping
// ErrAuthRejected for a credential rejection and a *TransientConnectError
// for anything worth retrying.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

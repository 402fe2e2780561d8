package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Default websocket transport timeouts.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second

	// DefaultReadLimit caps a single inbound message.
	DefaultReadLimit int64 = 8 << 20
)

// WebsocketDialer dials the generator service with gorilla/websocket.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the opening handshake (default: 10s)
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each message write when ctx has no earlier deadline (default: 10s)
	WriteTimeout time.Duration

	// ReadLimit caps each inbound message in bytes (default: 8 MiB)
	ReadLimit int64

	// TLSConfig is used for wss:// endpoints; nil uses the system defaults
	TLSConfig *tls.Config
}

// Dial performs the websocket handshake. HTTP 401 and 403 map to ErrAuthRejected.
func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
		TLSClientConfig:  d.TLSConfig,
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("%w: handshake status %d", ErrAuthRejected, resp.StatusCode)
			}
			return nil, &TransientConnectError{URL: url, StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &TransientConnectError{URL: url, Err: err}
	}

	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	ws.SetReadLimit(readLimit)

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &websocketConn{ws: ws, writeTimeout: writeTimeout}, nil
}

type websocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *websocketConn) WriteMessage(ctx context.Context, data []byte) error {
	if err := c.ws.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) Ping(ctx context.Context) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, c.deadline(ctx))
}

func (c *websocketConn) Close() error {
	return c.ws.Close()
}

func (c *websocketConn) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

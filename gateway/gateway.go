// Package gateway owns the single connection to the generator service.
//
// Run keeps the connection alive: it dials with a fixed retry delay until the
// handshake succeeds, reads frames and hands classified responses to the
// dispatcher, and after a read failure notifies connection-error subscribers,
// waits a cooldown and dials again. A credential rejection ends Run with
// ErrAuthRejected.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devoid_client/messages"
	"devoid_client/metrics"
)

// Default loop timings.
const (
	DefaultRetryDelay        = 5 * time.Second
	DefaultReconnectCooldown = 2 * time.Second
)

// State is the connection manager state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Dispatcher receives classified responses and connection failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, resp *messages.Response) error
	DispatchConnectionError(ctx context.Context, err error)
}

// Config identifies the service endpoint and credentials.
type Config struct {
	// Endpoint is the base websocket URL, e.g. wss://gen.example.com/ws
	Endpoint string

	// Service is the caller's service name; it is appended to Endpoint and sent as a header
	Service string

	// Token is sent in the authorization header
	Token string
}

// URL returns the address dialed for cfg.
func (c Config) URL() string {
	return strings.TrimRight(c.Endpoint, "/") + "/" + c.Service
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dialer = d }
}

// WithRetryDelay sets the wait between failed connection attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(g *Gateway) { g.retryDelay = d }
}

// WithReconnectCooldown sets the wait after a receive failure before reconnecting.
func WithReconnectCooldown(d time.Duration) Option {
	return func(g *Gateway) { g.cooldown = d }
}

// WithPingInterval enables keepalive pings. Zero disables them.
func WithPingInterval(d time.Duration) Option {
	return func(g *Gateway) { g.pingInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(g *Gateway) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithOnConnected registers a callback invoked after every successful handshake.
func WithOnConnected(fn func(sessionID string)) Option {
	return func(g *Gateway) { g.onConnected = fn }
}

// Gateway is the connection manager.
type Gateway struct {
	cfg          Config
	dispatcher   Dispatcher
	dialer       Dialer
	logger       *zap.Logger
	recorder     metrics.Recorder
	retryDelay   time.Duration
	cooldown     time.Duration
	pingInterval time.Duration
	onConnected  func(sessionID string)

	state atomic.Int32

	mu      sync.RWMutex
	conn    Conn
	session string

	writeMu sync.Mutex
}

// New creates a Gateway that delivers inbound events to dispatcher.
func New(cfg Config, dispatcher Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		dispatcher: dispatcher,
		dialer:     &WebsocketDialer{},
		logger:     zap.NewNop(),
		recorder:   metrics.Nop{},
		retryDelay: DefaultRetryDelay,
		cooldown:   DefaultReconnectCooldown,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.recorder.SetConnectionState(Disconnected.String())
	return g
}

// State returns the current connection state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// SessionID returns the id of the live connection, or "" when disconnected.
func (g *Gateway) SessionID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session
}

// Run drives the connect and receive loop until ctx ends (returning nil) or
// the service rejects the credentials (returning an error wrapping ErrAuthRejected).
func (g *Gateway) Run(ctx context.Context) error {
	for {
		conn, err := g.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		cause := g.receive(ctx, conn)
		g.detach(conn)
		if ctx.Err() != nil {
			g.setState(Disconnected)
			return nil
		}

		g.logger.Warn("connection lost", zap.Error(cause))
		g.dispatcher.DispatchConnectionError(ctx, cause)
		g.setState(Disconnected)

		if err := sleep(ctx, g.cooldown); err != nil {
			return nil
		}
	}
}

// Send writes req on the live connection.
func (g *Gateway) Send(ctx context.Context, req *messages.Request) error {
	data, err := messages.Marshal(req)
	if err != nil {
		return err
	}

	g.mu.RLock()
	conn := g.conn
	g.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	g.writeMu.Lock()
	err = conn.WriteMessage(ctx, data)
	g.writeMu.Unlock()

	g.recorder.RequestSent(string(req.Executor()), err)
	if err != nil {
		return &TransportError{Op: "send request", Err: err}
	}
	g.logger.Debug("request sent",
		zap.String("user_id", req.UserID()),
		zap.String("executor", string(req.Executor())),
		zap.String("gen_type", string(req.Kind())))
	return nil
}

func (g *Gateway) connect(ctx context.Context) (Conn, error) {
	g.setState(Connecting)
	url := g.cfg.URL()

	for {
		header := http.Header{}
		header.Set("Authorization", g.cfg.Token)
		header.Set("Service", g.cfg.Service)

		conn, err := g.dialer.Dial(ctx, url, header)
		if err == nil {
			session := uuid.NewString()
			g.mu.Lock()
			g.conn = conn
			g.session = session
			g.mu.Unlock()

			g.setState(Connected)
			g.recorder.ConnectAttempt(metrics.ConnectOK)
			g.logger.Info("connected to generator service",
				zap.String("url", url),
				zap.String("session_id", session))
			if g.onConnected != nil {
				g.onConnected(session)
			}
			return conn, nil
		}

		if ctx.Err() != nil {
			g.setState(Disconnected)
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrAuthRejected) {
			g.setState(Disconnected)
			g.recorder.ConnectAttempt(metrics.ConnectAuthRejected)
			g.logger.Error("generator service rejected credentials",
				zap.String("url", url),
				zap.Error(err))
			return nil, err
		}

		g.recorder.ConnectAttempt(metrics.ConnectTransient)
		g.logger.Warn("connection attempt failed",
			zap.String("url", url),
			zap.Duration("retry_in", g.retryDelay),
			zap.Error(err))
		if err := sleep(ctx, g.retryDelay); err != nil {
			g.setState(Disconnected)
			return nil, err
		}
	}
}

// receive reads until the connection fails. Cancelling ctx closes conn.
func (g *Gateway) receive(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	session := g.SessionID()
	done := make(chan struct{})
	defer close(done)
	if g.pingInterval > 0 {
		go g.keepalive(ctx, conn, session, done)
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return &TransportReadError{SessionID: session, Err: err}
		}
		if err := g.handleFrame(ctx, data); err != nil {
			return &TransportReadError{SessionID: session, Err: err}
		}
	}
}

// handleFrame classifies one frame. Only a dispatch failure is returned;
// unclassifiable frames are logged and skipped.
func (g *Gateway) handleFrame(ctx context.Context, data []byte) error {
	kind, err := messages.PeekMessageType(data)
	if err == nil && kind != messages.MessageTypeResponse {
		g.logger.Debug("ignoring frame", zap.String("message_type", string(kind)))
		return nil
	}

	resp, err := messages.ParseResponse(data)
	if err != nil {
		g.recorder.FrameReceived(metrics.FrameMalformed)
		g.logger.Warn("skipping malformed frame",
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return nil
	}

	g.recorder.FrameReceived(string(resp.Status))
	g.logger.Debug("response received",
		zap.String("user_id", resp.UserID()),
		zap.String("status", string(resp.Status)),
		zap.String("object_id", resp.ObjectID))
	return g.dispatcher.Dispatch(ctx, resp)
}

func (g *Gateway) keepalive(ctx context.Context, conn Conn, session string, done <-chan struct{}) {
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				g.logger.Warn("keepalive ping failed",
					zap.String("session_id", session),
					zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (g *Gateway) detach(conn Conn) {
	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
		g.session = ""
	}
	g.mu.Unlock()
	_ = conn.Close()
}

func (g *Gateway) setState(s State) {
	if State(g.state.Swap(int32(s))) != s {
		g.recorder.SetConnectionState(s.String())
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package client is the embedding surface of the generator connection: it
// wires the event bus, connection manager and per-user queues together and
// exposes submission, handler registration and lifecycle control.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"devoid_client/core"
	"devoid_client/events"
	"devoid_client/gateway"
	"devoid_client/messages"
	"devoid_client/metrics"
	"devoid_client/queue"

	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("client already started")

// Config holds connection and dispatch settings.
type Config struct {
	Endpoint string
	Service  string
	Token    string

	RetryDelay         time.Duration
	ReconnectCooldown  time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	PingInterval       time.Duration
	HandlerConcurrency int
	InFlightTimeout    time.Duration
}

// ConfigFromCore copies the relevant fields of an application config.
func ConfigFromCore(c *core.Config) Config {
	return Config{
		Endpoint:           c.Endpoint,
		Service:            c.Service,
		Token:              c.Token,
		RetryDelay:         c.RetryDelay,
		ReconnectCooldown:  c.ReconnectCooldown,
		HandshakeTimeout:   c.HandshakeTimeout,
		WriteTimeout:       c.WriteTimeout,
		PingInterval:       c.PingInterval,
		HandlerConcurrency: c.HandlerConcurrency,
		InFlightTimeout:    c.InFlightTimeout,
	}
}

// Option configures a GeneratorClient.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	recorder    metrics.Recorder
	dialer      gateway.Dialer
	fatal       func(error)
	onConnected []func(sessionID string)
}

// WithLogger sets the parent logger; components log under named children.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder sets the metrics recorder shared by every component.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d gateway.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithFatalHandler is called once when the service rejects the
// credentials. The default logs and exits with core.ExitCodeAuthRejected.
func WithFatalHandler(fn func(error)) Option {
	return func(o *options) { o.fatal = fn }
}

// WithOnConnected adds a callback run after every successful handshake.
func WithOnConnected(fn func(sessionID string)) Option {
	return func(o *options) { o.onConnected = append(o.onConnected, fn) }
}

// GenerationParams describes one submission.
type GenerationParams struct {
	Executor   messages.Executor
	Premium    bool
	Moderate   bool
	SyncWithS3 bool

	UserID    string
	ChatID    int64
	MessageID int64
	// Extra service-info fields, echoed back in every response.
	Extra map[string]any

	// Payload overrides the executor's default parameters.
	Payload map[string]any

	// MaxUserQueueSize bounds the user's buffered plus in-flight requests.
	MaxUserQueueSize int
}

// GeneratorClient talks to one generator service.
type GeneratorClient struct {
	logger *zap.Logger
	bus    *events.Bus
	gw     *gateway.Gateway
	queue  *queue.Manager
	fatal  func(error)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// New builds a client. Nothing connects until Start.
func New(cfg Config, opts ...Option) *GeneratorClient {
	o := options{
		logger:   zap.NewNop(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = &gateway.WebsocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
		}
	}

	c := &GeneratorClient{logger: o.logger}
	c.fatal = o.fatal
	if c.fatal == nil {
		c.fatal = func(err error) {
			c.logger.Error("Generator service rejected the credentials", zap.Error(err))
			_ = c.logger.Sync()
			os.Exit(core.ExitCodeAuthRejected)
		}
	}

	busOpts := []events.Option{events.WithRecorder(o.recorder)}
	if cfg.HandlerConcurrency > 0 {
		busOpts = append(busOpts, events.WithMaxConcurrentHandlers(cfg.HandlerConcurrency))
	}
	c.bus = events.New(o.logger.Named("events"), busOpts...)

	gwOpts := []gateway.Option{
		gateway.WithDialer(o.dialer),
		gateway.WithLogger(o.logger.Named("gateway")),
		gateway.WithRecorder(o.recorder),
		gateway.WithPingInterval(cfg.PingInterval),
	}
	if cfg.RetryDelay > 0 {
		gwOpts = append(gwOpts, gateway.WithRetryDelay(cfg.RetryDelay))
	}
	if cfg.ReconnectCooldown > 0 {
		gwOpts = append(gwOpts, gateway.WithReconnectCooldown(cfg.ReconnectCooldown))
	}
	if len(o.onConnected) > 0 {
		callbacks := o.onConnected
		gwOpts = append(gwOpts, gateway.WithOnConnected(func(session string) {
			for _, fn := range callbacks {
				fn(session)
			}
		}))
	}
	c.gw = gateway.New(gateway.Config{
		Endpoint: cfg.Endpoint,
		Service:  cfg.Service,
		Token:    cfg.Token,
	}, c.bus, gwOpts...)

	c.queue = queue.New(c.gw,
		queue.WithLogger(o.logger.Named("queue")),
		queue.WithRecorder(o.recorder),
		queue.WithInFlightTimeout(cfg.InFlightTimeout),
	)
	c.queue.Attach(c.bus)
	return c
}

// Text2Img submits a text-to-image request.
func (c *GeneratorClient) Text2Img(ctx context.Context, p GenerationParams) error {
	return c.submit(ctx, messages.GenTypeText2Img, p)
}

// Img2Img submits an image-to-image request. Kandinsky cannot serve it.
func (c *GeneratorClient) Img2Img(ctx context.Context, p GenerationParams) error {
	return c.submit(ctx, messages.GenTypeImg2Img, p)
}

// Mix2Img submits an image mixing request. Only kandinsky serves it.
func (c *GeneratorClient) Mix2Img(ctx context.Context, p GenerationParams) error {
	return c.submit(ctx, messages.GenTypeMix2Img, p)
}

func (c *GeneratorClient) submit(ctx context.Context, kind messages.GenType, p GenerationParams) error {
	req, err := BuildRequest(kind, p)
	if err != nil {
		return err
	}
	return c.queue.Submit(ctx, p.UserID, req, p.MaxUserQueueSize)
}

// BuildRequest turns params into a validated request without submitting it.
func BuildRequest(kind messages.GenType, p GenerationParams) (*messages.Request, error) {
	extra := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		extra[k] = v
	}
	extra["chat_id"] = p.ChatID
	extra["message_id"] = p.MessageID

	info, err := messages.NewServiceInfo(p.UserID, extra)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if len(p.Payload) > 0 {
		raw, err = json.Marshal(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	return messages.NewRequest(kind, p.Executor, messages.Settings{
		Premium:    p.Premium,
		Moderate:   p.Moderate,
		SyncWithS3: p.SyncWithS3,
	}, info, raw)
}

// OnQueued registers h for queued responses. Handlers should be registered
// before Start.
func (c *GeneratorClient) OnQueued(h events.ResponseHandler) { c.bus.OnQueued(h) }

// OnGenerating registers h for generating responses.
func (c *GeneratorClient) OnGenerating(h events.ResponseHandler) { c.bus.OnGenerating(h) }

// OnError registers h for error responses.
func (c *GeneratorClient) OnError(h events.ResponseHandler) { c.bus.OnError(h) }

// OnDone registers h for done responses.
func (c *GeneratorClient) OnDone(h events.ResponseHandler) { c.bus.OnDone(h) }

// OnConnectionError registers h for lost connections. It runs before the
// client discards its per-user buffers.
func (c *GeneratorClient) OnConnectionError(h events.ConnectionErrorHandler) {
	c.bus.OnConnectionError(h)
}

// Bus exposes the event bus for components that subscribe on their own.
func (c *GeneratorClient) Bus() *events.Bus { return c.bus }

// Start runs the connection loop in the background until Stop or until the
// service rejects the credentials, in which case the fatal handler runs.
func (c *GeneratorClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		err := c.gw.Run(runCtx)
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
		if errors.Is(err, gateway.ErrAuthRejected) {
			c.fatal(err)
		}
	}()
	return nil
}

// Done is closed when the connection loop has exited. It is nil before
// Start.
func (c *GeneratorClient) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error the connection loop ended with.
func (c *GeneratorClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Stop ends the connection loop and waits for running handlers, bounded by
// ctx.
func (c *GeneratorClient) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	closed := make(chan struct{})
	go func() {
		c.bus.Close()
		close(closed)
	}()
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the connection state.
func (c *GeneratorClient) State() gateway.State { return c.gw.State() }

// SessionID returns the live connection's session id, or "".
func (c *GeneratorClient) SessionID() string { return c.gw.SessionID() }

// QueueSnapshot reports userID's buffer.
func (c *GeneratorClient) QueueSnapshot(userID string) (queue.BufferState, bool) {
	return c.queue.Snapshot(userID)
}

// Package events routes classified responses and connection failures to
// registered handlers.
//
// Response handlers run concurrently with each other and with the receive
// loop, bounded by a weighted semaphore. Connection-error handlers run
// synchronously in registration order, followed by the internal tier
// registered through AfterConnectionError.
package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"devoid_client/messages"
	"devoid_client/metrics"
)

// DefaultMaxConcurrentHandlers bounds in-flight response handler goroutines.
const DefaultMaxConcurrentHandlers = 64

// ErrBusClosed is returned by Dispatch after Close.
var ErrBusClosed = errors.New("event bus closed")

// ResponseHandler reacts to one classified response.
type ResponseHandler func(ctx context.Context, resp *messages.Response) error

// ConnectionErrorHandler reacts to a receive-loop failure.
type ConnectionErrorHandler func(ctx context.Context, err error) error

// HandlerFailure describes a handler that returned an error or panicked.
type HandlerFailure struct {
	Event string // status name or "connection_error"
	Index int    // position in registration order
	Err   error
	Panic any
	Stack []byte
}

func (f *HandlerFailure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("%s handler #%d panicked: %v", f.Event, f.Index, f.Panic)
	}
	return fmt.Sprintf("%s handler #%d failed: %v", f.Event, f.Index, f.Err)
}

func (f *HandlerFailure) Unwrap() error { return f.Err }

// Option configures a Bus.
type Option func(*Bus)

// WithMaxConcurrentHandlers sets the response handler concurrency bound.
func WithMaxConcurrentHandlers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.limit = int64(n)
		}
	}
}

// WithRecorder sets the metrics recorder for handler failures.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *Bus) {
		if r != nil {
			b.recorder = r
		}
	}
}

// withFailureHook registers a callback invoked for every handler failure after it is logged.
func withFailureHook(fn func(*HandlerFailure)) Option {
	return func(b *Bus) { b.onFailure = fn }
}

// Bus holds the dispatch tables. Handlers may be registered at any time;
// a dispatch uses the handlers registered when it began.
type Bus struct {
	logger    *zap.Logger
	recorder  metrics.Recorder
	onFailure func(*HandlerFailure)
	limit     int64

	mu        sync.RWMutex
	responses map[messages.GenStatus][]ResponseHandler
	connErr   []ConnectionErrorHandler
	afterErr  []ConnectionErrorHandler

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an empty Bus.
func New(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		logger:    logger,
		recorder:  metrics.Nop{},
		limit:     DefaultMaxConcurrentHandlers,
		responses: make(map[messages.GenStatus][]ResponseHandler, len(messages.Statuses)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.sem = semaphore.NewWeighted(b.limit)
	return b
}

// OnResponse appends h to the handler list for status.
func (b *Bus) OnResponse(status messages.GenStatus, h ResponseHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[status] = append(b.responses[status], h)
}

func (b *Bus) OnQueued(h ResponseHandler)     { b.OnResponse(messages.StatusQueued, h) }
func (b *Bus) OnGenerating(h ResponseHandler) { b.OnResponse(messages.StatusGenerating, h) }
func (b *Bus) OnError(h ResponseHandler)      { b.OnResponse(messages.StatusError, h) }
func (b *Bus) OnDone(h ResponseHandler)       { b.OnResponse(messages.StatusDone, h) }

// OnConnectionError appends h to the external connection-error handlers.
func (b *Bus) OnConnectionError(h ConnectionErrorHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connErr = append(b.connErr, h)
}

// AfterConnectionError appends h to the internal tier that runs once every
// external connection-error handler has returned.
func (b *Bus) AfterConnectionError(h ConnectionErrorHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.afterErr = append(b.afterErr, h)
}

// handlerCount returns the number of response handlers registered for status.
func (b *Bus) handlerCount(status messages.GenStatus) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.responses[status])
}

// Dispatch schedules every handler for resp.Status in registration order and
// returns without waiting for them. It blocks while the concurrency bound is
// reached and returns ctx.Err() if ctx ends first.
func (b *Bus) Dispatch(ctx context.Context, resp *messages.Response) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.RLock()
	handlers := append([]ResponseHandler(nil), b.responses[resp.Status]...)
	b.mu.RUnlock()

	event := string(resp.Status)
	for i, h := range handlers {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		b.wg.Add(1)
		go func(i int, h ResponseHandler) {
			defer b.wg.Done()
			defer b.sem.Release(1)
			b.invoke(event, i, func() error { return h(ctx, resp) })
		}(i, h)
	}
	return nil
}

// DispatchConnectionError runs each connection-error handler to completion in
// registration order, then the internal tier.
func (b *Bus) DispatchConnectionError(ctx context.Context, cause error) {
	b.mu.RLock()
	handlers := make([]ConnectionErrorHandler, 0, len(b.connErr)+len(b.afterErr))
	handlers = append(handlers, b.connErr...)
	handlers = append(handlers, b.afterErr...)
	b.mu.RUnlock()

	for i, h := range handlers {
		b.invoke("connection_error", i, func() error { return h(ctx, cause) })
	}
}

// Wait blocks until every scheduled response handler has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close rejects further dispatches and waits for running handlers.
func (b *Bus) Close() {
	b.closed.Store(true)
	b.wg.Wait()
}

func (b *Bus) invoke(event string, index int, call func() error) {
	var failure *HandlerFailure
	func() {
		defer func() {
			if r := recover(); r != nil {
				failure = &HandlerFailure{Event: event, Index: index, Panic: r, Stack: debug.Stack()}
			}
		}()
		if err := call(); err != nil {
			failure = &HandlerFailure{Event: event, Index: index, Err: err}
		}
	}()

	if failure == nil {
		return
	}

	fields := []zap.Field{
		zap.String("event", event),
		zap.Int("handler", index),
	}
	if failure.Panic != nil {
		fields = append(fields, zap.Any("panic", failure.Panic), zap.ByteString("stack", failure.Stack))
	} else {
		fields = append(fields, zap.Error(failure.Err))
	}
	b.logger.Error("handler failed", fields...)
	b.recorder.HandlerFailed(event)
	if b.onFailure != nil {
		b.onFailure(failure)
	}
}

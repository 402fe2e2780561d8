package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Defaults for NewAsyncWriter.
const (
	DefaultChannelCapacity = 256
	DefaultDrainTimeout    = 10 * time.Second
)

// WriteOperation is one queued journal write.
type WriteOperation struct {
	Data      any
	Timestamp time.Time
}

// WriteHandler persists a WriteOperation. It runs on the writer goroutine.
type WriteHandler func(ctx context.Context, op WriteOperation) error

// AsyncWriterConfig configures an AsyncWriter.
type AsyncWriterConfig struct {
	ChannelCapacity int
	// DrainTimeout bounds how long Close keeps writing queued operations.
	DrainTimeout time.Duration
}

// AsyncWriter moves journal writes off the response handler path. Write
// never blocks; when the buffer is full the operation is dropped and
// counted.
type AsyncWriter struct {
	ops     chan WriteOperation
	handler WriteHandler
	logger  *zap.Logger
	drain   time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncWriter returns an unstarted writer.
func NewAsyncWriter(handler WriteHandler, logger *zap.Logger, config AsyncWriterConfig) *AsyncWriter {
	if config.ChannelCapacity <= 0 {
		config.ChannelCapacity = DefaultChannelCapacity
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncWriter{
		ops:     make(chan WriteOperation, config.ChannelCapacity),
		handler: handler,
		logger:  logger,
		drain:   config.DrainTimeout,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the writer goroutine. Calling it again is a no-op.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	go w.loop()
}

func (w *AsyncWriter) loop() {
	defer close(w.done)
	ctx := context.Background()
	for {
		select {
		case <-w.stop:
			w.drainPending()
			return
		case op := <-w.ops:
			w.apply(ctx, op)
		}
	}
}

func (w *AsyncWriter) drainPending() {
	ctx, cancel := context.WithTimeout(context.Background(), w.drain)
	defer cancel()
	for {
		select {
		case op := <-w.ops:
			if ctx.Err() != nil {
				w.dropped.Add(1)
				continue
			}
			w.apply(ctx, op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) apply(ctx context.Context, op WriteOperation) {
	if err := w.handler(ctx, op); err != nil {
		w.failed.Add(1)
		w.logger.Warn("Journal write failed", zap.Error(err))
	}
}

// Write queues data. It returns false when the writer is closed or full.
func (w *AsyncWriter) Write(data any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.ops <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Pending returns the number of queued operations.
func (w *AsyncWriter) Pending() int {
	return len(w.ops)
}

// Dropped returns how many operations were discarded.
func (w *AsyncWriter) Dropped() int64 { return w.dropped.Load() }

// Failed returns how many handler calls returned an error.
func (w *AsyncWriter) Failed() int64 { return w.failed.Load() }

// Close stops accepting writes, drains what is queued and waits for the
// goroutine to exit or ctx to end.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	if !started {
		return nil
	}
	close(w.stop)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

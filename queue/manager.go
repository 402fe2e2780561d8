// Package queue admits generation requests per user and keeps at most one
// request per user outstanding with the generator service.
//
// Each user owns a bounded FIFO buffer guarded by its own mutex, so
// submissions for different users never wait on each other. A terminal
// response (done or error) advances the owner's buffer by sending the next
// pending request. A connection error discards every buffer.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"devoid_client/events"
	"devoid_client/gateway"
	"devoid_client/messages"
	"devoid_client/metrics"
)

// Sender writes a request to the generator service.
type Sender interface {
	Send(ctx context.Context, req *messages.Request) error
}

// Subscriber is the part of the event bus the Manager attaches to.
type Subscriber interface {
	OnDone(h events.ResponseHandler)
	OnError(h events.ResponseHandler)
	AfterConnectionError(h events.ConnectionErrorHandler)
}

// statusAbandoned labels requests given up on by the in-flight deadline.
const statusAbandoned = "abandoned"

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithInFlightTimeout abandons a sent request that gets no terminal response
// within d and advances the user's buffer as if it had failed. Zero disables
// the deadline.
func WithInFlightTimeout(d time.Duration) Option {
	return func(m *Manager) { m.inFlightTimeout = d }
}

// Manager is the per-user queue manager.
type Manager struct {
	sender          Sender
	logger          *zap.Logger
	recorder        metrics.Recorder
	inFlightTimeout time.Duration
	now             func() time.Time

	// mu guards the table only; it is never held while a buffer lock is taken.
	mu      sync.Mutex
	buffers map[string]*userBuffer
}

// New creates a Manager that sends through sender.
func New(sender Sender, opts ...Option) *Manager {
	m := &Manager{
		sender:   sender,
		logger:   zap.NewNop(),
		recorder: metrics.Nop{},
		now:      time.Now,
		buffers:  make(map[string]*userBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach subscribes the manager to terminal responses and connection errors.
// The buffer reset is registered on the internal tier so it runs after every
// external connection-error handler.
func (m *Manager) Attach(bus Subscriber) {
	bus.OnDone(m.OnTerminalResponse)
	bus.OnError(m.OnTerminalResponse)
	bus.AfterConnectionError(m.OnConnectionError)
}

// Submit admits req into userID's buffer with the given capacity, which
// replaces any capacity supplied earlier. If nothing is in flight for the user
// the head of the buffer is sent before Submit returns.
//
// A full buffer returns an error matching ErrQueueFull. A send failure is
// returned as is; if the connection was down the admission is rolled back,
// otherwise the request stays in flight until a terminal response, the
// in-flight deadline or the next connection-error sweep resolves it.
func (m *Manager) Submit(ctx context.Context, userID string, req *messages.Request, capacity int) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if capacity < 1 {
		return ErrInvalidCapacity
	}
	if req.UserID() != userID {
		return ErrUserMismatch
	}

	buf := m.lockBuffer(userID)
	defer buf.mu.Unlock()

	buf.capacity = capacity
	if buf.occupied >= capacity {
		m.recorder.Submitted(metrics.SubmitFull)
		return &QueueFullError{UserID: userID, Capacity: capacity}
	}

	buf.occupied++
	buf.pending.PushBack(req)
	if buf.inFlight() {
		m.recorder.PendingChanged(1)
		m.recorder.Submitted(metrics.SubmitBuffered)
		m.logger.Debug("request buffered",
			zap.String("user_id", userID),
			zap.Int("occupied", buf.occupied),
			zap.Int("capacity", capacity))
		return nil
	}

	next := buf.popPending()
	if err := m.sendLocked(ctx, userID, buf, next); err != nil {
		m.recorder.Submitted(metrics.SubmitFailed)
		if errors.Is(err, gateway.ErrNotConnected) {
			buf.land()
			buf.occupied--
		}
		return err
	}
	m.recorder.Submitted(metrics.SubmitSent)
	return nil
}

// OnTerminalResponse advances the owner's buffer after a done or error
// response. Responses for unknown or idle users are stale and ignored.
func (m *Manager) OnTerminalResponse(ctx context.Context, resp *messages.Response) error {
	userID := resp.UserID()
	buf := m.existingBuffer(userID)
	if buf == nil {
		m.logger.Debug("ignoring response for unknown user",
			zap.String("user_id", userID),
			zap.String("status", string(resp.Status)))
		return nil
	}
	defer buf.mu.Unlock()

	if !buf.inFlight() {
		m.logger.Debug("ignoring response for idle user",
			zap.String("user_id", userID),
			zap.String("status", string(resp.Status)))
		return nil
	}
	return m.advanceLocked(ctx, userID, buf, string(resp.Status))
}

// OnConnectionError discards every buffer.
func (m *Manager) OnConnectionError(ctx context.Context, cause error) error {
	m.Reset()
	return nil
}

// Reset discards every buffer. Requests in flight are abandoned without a record.
func (m *Manager) Reset() {
	m.mu.Lock()
	old := m.buffers
	m.buffers = make(map[string]*userBuffer)
	m.mu.Unlock()

	dropped := 0
	for _, buf := range old {
		buf.mu.Lock()
		dropped += buf.discard()
		buf.mu.Unlock()
	}
	if dropped > 0 {
		m.recorder.PendingChanged(-dropped)
	}
	m.logger.Info("user queues reset",
		zap.Int("users", len(old)),
		zap.Int("pending_dropped", dropped))
}

// Snapshot returns the state of userID's buffer.
func (m *Manager) Snapshot(userID string) (BufferState, bool) {
	buf := m.existingBuffer(userID)
	if buf == nil {
		return BufferState{}, false
	}
	defer buf.mu.Unlock()
	return buf.state(), true
}

// Len returns the number of users with a buffer.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// lockBuffer returns userID's buffer, creating it if needed, with its mutex held.
func (m *Manager) lockBuffer(userID string) *userBuffer {
	for {
		m.mu.Lock()
		buf, ok := m.buffers[userID]
		if !ok {
			buf = newUserBuffer()
			m.buffers[userID] = buf
		}
		m.mu.Unlock()

		buf.mu.Lock()
		if !buf.discarded {
			return buf
		}
		// Lost a race with Reset; the table now holds a fresh buffer.
		buf.mu.Unlock()
	}
}

// existingBuffer returns userID's buffer with its mutex held, or nil.
func (m *Manager) existingBuffer(userID string) *userBuffer {
	m.mu.Lock()
	buf, ok := m.buffers[userID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	buf.mu.Lock()
	if buf.discarded {
		buf.mu.Unlock()
		return nil
	}
	return buf
}

// advanceLocked finishes the in-flight request and sends the next pending one.
// The dequeue is recorded before the send so a failed send leaves the buffer
// consistent.
func (m *Manager) advanceLocked(ctx context.Context, userID string, buf *userBuffer, status string) error {
	if f := buf.land(); f != nil {
		m.recorder.GenerationFinished(metrics.GenerationRecord{
			UserID:   userID,
			Executor: string(f.req.Executor()),
			Kind:     string(f.req.Kind()),
			Status:   status,
			SentAt:   f.sentAt,
			Duration: m.now().Sub(f.sentAt),
		})
	}

	buf.occupied--
	if buf.occupied < 1 {
		buf.occupied = 0
		return nil
	}

	next := buf.popPending()
	m.recorder.PendingChanged(-1)
	return m.sendLocked(ctx, userID, buf, next)
}

// sendLocked marks req in flight and sends it.
func (m *Manager) sendLocked(ctx context.Context, userID string, buf *userBuffer, req *messages.Request) error {
	buf.seq++
	f := &flight{req: req, sentAt: m.now(), seq: buf.seq}
	buf.current = f
	if m.inFlightTimeout > 0 {
		f.timer = time.AfterFunc(m.inFlightTimeout, func() { m.expire(userID, buf, f.seq) })
	}

	if err := m.sender.Send(ctx, req); err != nil {
		m.logger.Warn("send failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return err
	}
	return nil
}

// expire abandons the in-flight request identified by seq if it is still outstanding.
func (m *Manager) expire(userID string, buf *userBuffer, seq uint64) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	if buf.discarded || buf.current == nil || buf.current.seq != seq {
		return
	}
	m.logger.Warn("in-flight request abandoned",
		zap.String("user_id", userID),
		zap.Duration("timeout", m.inFlightTimeout))
	if err := m.advanceLocked(context.Background(), userID, buf, statusAbandoned); err != nil {
		m.logger.Warn("send after abandoned request failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

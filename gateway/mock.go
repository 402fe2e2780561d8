package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// errMockClosed is returned by MockConn reads and writes after Close.
var errMockClosed = errors.New("mock connection closed")

// MockConn implements Conn for testing. Frames pushed with Push are returned
// by ReadMessage in order; Fail makes the next blocked read return err.
type MockConn struct {
	incoming chan []byte
	failures chan error
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written [][]byte
	pings   int

	// WriteErr, when set, is returned by every WriteMessage call
	WriteErr error
}

// NewMockConn creates an open mock connection.
func NewMockConn() *MockConn {
	return &MockConn{
		incoming: make(chan []byte, 100),
		failures: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// Push queues an inbound frame.
func (m *MockConn) Push(frame []byte) {
	m.incoming <- frame
}

// Fail makes a pending or future read return err once queued frames are drained.
func (m *MockConn) Fail(err error) {
	select {
	case m.failures <- err:
	default:
	}
}

func (m *MockConn) ReadMessage() ([]byte, error) {
	select {
	case frame := <-m.incoming:
		return frame, nil
	default:
	}
	select {
	case frame := <-m.incoming:
		return frame, nil
	case err := <-m.failures:
		return nil, err
	case <-m.closed:
		return nil, errMockClosed
	}
}

func (m *MockConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-m.closed:
		return errMockClosed
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *MockConn) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return nil
}

func (m *MockConn) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// Written returns copies of every frame written so far.
func (m *MockConn) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

// Pings returns the number of keepalive pings sent.
func (m *MockConn) Pings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

// IsClosed reports whether Close was called.
func (m *MockConn) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// DialResult is one scripted outcome of MockDialer.Dial.
type DialResult struct {
	Conn Conn
	Err  error
}

// MockDialer implements Dialer for testing. Each Dial consumes the next
// scripted result; once the script is exhausted Dial blocks until ctx ends.
type MockDialer struct {
	mu      sync.Mutex
	results []DialResult
	calls   []DialCall
	dialed  chan struct{}
}

// DialCall records one Dial invocation.
type DialCall struct {
	URL    string
	Header http.Header
}

// NewMockDialer creates a dialer that plays back results in order.
func NewMockDialer(results ...DialResult) *MockDialer {
	return &MockDialer{results: results, dialed: make(chan struct{}, 100)}
}

// Script appends more results.
func (m *MockDialer) Script(results ...DialResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
}

func (m *MockDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	m.mu.Lock()
	m.calls = append(m.calls, DialCall{URL: url, Header: header.Clone()})
	var next *DialResult
	if len(m.results) > 0 {
		next = &m.results[0]
		m.results = m.results[1:]
	}
	m.mu.Unlock()

	select {
	case m.dialed <- struct{}{}:
	default:
	}

	if next == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return next.Conn, next.Err
}

// Calls returns every recorded Dial invocation.
func (m *MockDialer) Calls() []DialCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DialCall(nil), m.calls...)
}

// Dialed signals once per Dial call.
func (m *MockDialer) Dialed() <-chan struct{} {
	return m.dialed
}

var (
	_ Conn   = (*MockConn)(nil)
	_ Dialer = (*MockDialer)(nil)
)

package queue

import (
	"container/list"
	"sync"
	"time"

	"devoid_client/messages"
)

// flight is the request currently outstanding with the service for one user.
type flight struct {
	req    *messages.Request
	sentAt time.Time
	seq    uint64
	timer  *time.Timer
}

// userBuffer holds one user's admission state. Every field is guarded by mu.
// occupied == pending.Len() + 1 while a request is in flight, pending.Len() otherwise.
type userBuffer struct {
	mu        sync.Mutex
	capacity  int
	occupied  int
	pending   *list.List // of *messages.Request
	current   *flight
	seq       uint64
	discarded bool
}

func newUserBuffer() *userBuffer {
	return &userBuffer{pending: list.New()}
}

func (b *userBuffer) inFlight() bool {
	return b.current != nil
}

func (b *userBuffer) popPending() *messages.Request {
	front := b.pending.Front()
	if front == nil {
		return nil
	}
	b.pending.Remove(front)
	return front.Value.(*messages.Request)
}

// land clears the in-flight request and returns it.
func (b *userBuffer) land() *flight {
	f := b.current
	b.current = nil
	if f != nil && f.timer != nil {
		f.timer.Stop()
	}
	return f
}

// discard drops everything and marks the buffer unusable. It returns the
// number of pending requests dropped.
func (b *userBuffer) discard() int {
	dropped := b.pending.Len()
	b.land()
	b.pending.Init()
	b.occupied = 0
	b.discarded = true
	return dropped
}

// BufferState is a point-in-time view of one user's buffer.
type BufferState struct {
	Capacity int
	Occupied int
	Pending  int
	InFlight bool
}

func (b *userBuffer) state() BufferState {
	return BufferState{
		Capacity: b.capacity,
		Occupied: b.occupied,
		Pending:  b.pending.Len(),
		InFlight: b.inFlight(),
	}
}

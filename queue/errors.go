package queue

import (
	"errors"
	"fmt"
)

// Common queue errors.
var (
	// ErrQueueFull indicates the user's buffer is at capacity. The request was not queued.
	ErrQueueFull = errors.New("user queue is full")

	// ErrInvalidCapacity indicates a capacity below one.
	ErrInvalidCapacity = errors.New("queue capacity must be at least 1")

	// ErrMissingUserID indicates a submission without a user id.
	ErrMissingUserID = errors.New("user id is required")

	// ErrUserMismatch indicates the request's service info names a different user.
	ErrUserMismatch = errors.New("request user id does not match submission user id")
)

// QueueFullError carries the user and bound that rejected a submission.
type QueueFullError struct {
	UserID   string
	Capacity int
}

// Error implements the error interface.
func (e *QueueFullError) Error() string {
	return fmt.Sprintf("user %s: %v (capacity %d)", e.UserID, ErrQueueFull, e.Capacity)
}

// Is lets errors.Is match ErrQueueFull.
func (e *QueueFullError) Is(target error) bool {
	return target == ErrQueueFull
}

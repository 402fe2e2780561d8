// Package metrics records connection, queue and dispatch activity of the generator client.
// Recorders are fanned out through Multi so a process can export to Prometheus and keep
// an in-memory history at the same time.
package metrics

import "time"

// Connection outcome labels passed to Recorder.ConnectAttempt.
const (
	ConnectOK           = "ok"
	ConnectTransient    = "transient"
	ConnectAuthRejected = "auth_rejected"
)

// Submission outcome labels passed to Recorder.Submitted.
const (
	SubmitSent     = "sent"
	SubmitBuffered = "buffered"
	SubmitFull     = "queue_full"
	SubmitFailed   = "send_failed"
)

// FrameMalformed labels inbound frames that could not be classified.
const FrameMalformed = "malformed"

// GenerationRecord describes one request from the moment it was sent to the
// service until its terminal response (or abandonment).
type GenerationRecord struct {
	// UserID is the owner of the request
	UserID string `json:"user_id"`

	// Executor and Kind identify the backend and operation
	Executor string `json:"executor"`
	Kind     string `json:"kind"`

	// Status is the terminal status: "done", "error" or "abandoned"
	Status string `json:"status"`

	// SentAt is when the request was written to the connection
	SentAt time.Time `json:"sent_at"`

	// Duration is the time between send and terminal response
	Duration time.Duration `json:"duration"`
}

// Summary aggregates finished generations.
type Summary struct {
	Total      int64                    `json:"total"`
	Done       int64                    `json:"done"`
	Errors     int64                    `json:"errors"`
	Abandoned  int64                    `json:"abandoned"`
	Reconnects int64                    `json:"reconnects"`
	ByExecutor map[string]*ExecutorStat `json:"by_executor"`
}

// ExecutorStat holds per-executor aggregates.
type ExecutorStat struct {
	Count       int64         `json:"count"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

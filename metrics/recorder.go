package metrics

// Recorder receives instrumentation events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// SetConnectionState reports the connection manager state name.
	SetConnectionState(state string)

	// ConnectAttempt reports the outcome of one connection attempt.
	ConnectAttempt(outcome string)

	// FrameReceived reports an inbound frame by status, or FrameMalformed.
	FrameReceived(status string)

	// RequestSent reports a write of a request to the connection.
	RequestSent(executor string, err error)

	// Submitted reports the outcome of a per-user submission.
	Submitted(outcome string)

	// PendingChanged adjusts the number of buffered (not yet sent) requests.
	PendingChanged(delta int)

	// HandlerFailed reports a handler that returned an error or panicked.
	HandlerFailed(event string)

	// GenerationFinished reports a completed request lifecycle.
	GenerationFinished(rec GenerationRecord)
}

// Nop discards every event.
type Nop struct{}

func (Nop) SetConnectionState(string)           {}
func (Nop) ConnectAttempt(string)               {}
func (Nop) FrameReceived(string)                {}
func (Nop) RequestSent(string, error)           {}
func (Nop) Submitted(string)                    {}
func (Nop) PendingChanged(int)                  {}
func (Nop) HandlerFailed(string)                {}
func (Nop) GenerationFinished(GenerationRecord) {}

type multi []Recorder

// Multi fans every event out to each non-nil recorder in order.
func Multi(recorders ...Recorder) Recorder {
	out := make(multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return Nop{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) SetConnectionState(state string) {
	for _, r := range m {
		r.SetConnectionState(state)
	}
}

func (m multi) ConnectAttempt(outcome string) {
	for _, r := range m {
		r.ConnectAttempt(outcome)
	}
}

func (m multi) FrameReceived(status string) {
	for _, r := range m {
		r.FrameReceived(status)
	}
}

func (m multi) RequestSent(executor string, err error) {
	for _, r := range m {
		r.RequestSent(executor, err)
	}
}

func (m multi) Submitted(outcome string) {
	for _, r := range m {
		r.Submitted(outcome)
	}
}

func (m multi) PendingChanged(delta int) {
	for _, r := range m {
		r.PendingChanged(delta)
	}
}

func (m multi) HandlerFailed(event string) {
	for _, r := range m {
		r.HandlerFailed(event)
	}
}

func (m multi) GenerationFinished(rec GenerationRecord) {
	for _, r := range m {
		r.GenerationFinished(rec)
	}
}

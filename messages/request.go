package messages

import (
	"encoding/json"
	"fmt"
)

// Request is an outbound generation request. It is immutable once built by NewRequest.
type Request struct {
	kind        GenType
	executor    Executor
	settings    Settings
	serviceInfo ServiceInfo
	payload     Payload
}

// NewRequest validates the operation against the executor, fills payload defaults
// and returns a request ready for the wire.
func NewRequest(kind GenType, executor Executor, settings Settings, info ServiceInfo, rawPayload json.RawMessage) (*Request, error) {
	if !executor.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, executor)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrUnsupportedOperation, kind)
	}
	if !executor.Supports(kind) {
		return nil, fmt.Errorf("%w: %s cannot process %s", ErrUnsupportedOperation, executor, kind)
	}
	if info.UserID == "" {
		return nil, ErrMissingUserID
	}

	payload, err := DecodePayload(executor, rawPayload, true)
	if err != nil {
		return nil, err
	}

	return &Request{
		kind:        kind,
		executor:    executor,
		settings:    settings,
		serviceInfo: info.Clone(),
		payload:     payload,
	}, nil
}

func (r *Request) Kind() GenType            { return r.kind }
func (r *Request) Executor() Executor       { return r.executor }
func (r *Request) Settings() Settings       { return r.settings }
func (r *Request) ServiceInfo() ServiceInfo { return r.serviceInfo.Clone() }
func (r *Request) UserID() string           { return r.serviceInfo.UserID }

// Payload returns a copy of the request parameters.
func (r *Request) Payload() Payload { return r.payload.clone() }

type requestFrame struct {
	MessageType MessageType `json:"message_type"`
	Executor    Executor    `json:"executor"`
	GenType     GenType     `json:"gen_type"`
	Settings    Settings    `json:"settings"`
	ServiceInfo ServiceInfo `json:"service_info"`
	Payload     Payload     `json:"payload"`
}

// MarshalJSON encodes the request as a wire frame.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestFrame{
		MessageType: MessageTypeRequest,
		Executor:    r.executor,
		GenType:     r.kind,
		Settings:    r.settings,
		ServiceInfo: r.serviceInfo,
		Payload:     r.payload,
	})
}

// Marshal returns the wire bytes for r.
func Marshal(r *Request) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("marshal request: nil request")
	}
	return json.Marshal(r)
}

package messages

import (
	"encoding/json"
	"fmt"
)

// Response is a status update for a previously sent request.
type Response struct {
	ObjectID    string
	Executor    Executor
	GenType     GenType
	Status      GenStatus
	AvgTime     *float64
	Result      *Result
	Settings    Settings
	ServiceInfo ServiceInfo

	// Payload is nil when the echoed parameters do not decode into the
	// executor's variant. RawPayload always holds the bytes as received.
	Payload    Payload
	RawPayload json.RawMessage
}

// UserID returns the owner of the request this response belongs to.
func (r *Response) UserID() string { return r.ServiceInfo.UserID }

// IsTerminal reports whether the response ends the request's lifecycle.
func (r *Response) IsTerminal() bool { return r.Status.Terminal() }

type envelope struct {
	MessageType MessageType `json:"message_type"`
}

type responseFrame struct {
	ObjectID    json.RawMessage `json:"object_id"`
	MessageType MessageType     `json:"message_type"`
	Executor    Executor        `json:"executor"`
	GenType     GenType         `json:"gen_type"`
	GenStatus   GenStatus       `json:"gen_status"`
	AvgTime     *float64        `json:"avg_time"`
	Result      *Result         `json:"result"`
	Settings    *Settings       `json:"settings"`
	ServiceInfo *ServiceInfo    `json:"service_info"`
	Payload     json.RawMessage `json:"payload"`
}

// PeekMessageType reads only the message_type discriminator of a frame.
func PeekMessageType(data []byte) (MessageType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.MessageType == "" {
		return "", fmt.Errorf("%w: missing message_type", ErrMalformedMessage)
	}
	return env.MessageType, nil
}

// ParseResponse decodes and classifies an inbound frame. Every failure wraps
// ErrMalformedMessage. The echoed payload is decoded without defaults.
func ParseResponse(data []byte) (*Response, error) {
	var frame responseFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if frame.MessageType != MessageTypeResponse {
		return nil, fmt.Errorf("%w: unexpected message_type %q", ErrMalformedMessage, frame.MessageType)
	}
	if !frame.GenStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown gen_status %q", ErrMalformedMessage, frame.GenStatus)
	}
	if !frame.Executor.Valid() {
		return nil, fmt.Errorf("%w: unknown executor %q", ErrMalformedMessage, frame.Executor)
	}
	if !frame.GenType.Valid() {
		return nil, fmt.Errorf("%w: unknown gen_type %q", ErrMalformedMessage, frame.GenType)
	}
	if frame.ServiceInfo == nil {
		return nil, fmt.Errorf("%w: missing service_info", ErrMalformedMessage)
	}

	// An undecodable payload does not reject the response.
	payload, err := DecodePayload(frame.Executor, frame.Payload, false)
	if err != nil {
		payload = nil
	}

	resp := &Response{
		ObjectID:    objectID(frame.ObjectID),
		Executor:    frame.Executor,
		GenType:     frame.GenType,
		Status:      frame.GenStatus,
		AvgTime:     frame.AvgTime,
		Result:      frame.Result,
		ServiceInfo: *frame.ServiceInfo,
		Payload:     payload,
		RawPayload:  frame.Payload,
	}
	if frame.Settings != nil {
		resp.Settings = *frame.Settings
	}
	return resp, nil
}

// objectID accepts string or numeric identifiers.
func objectID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

package messages

import "errors"

var (
	// ErrMalformedMessage is returned when an inbound frame cannot be classified.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrMissingUserID is returned when service info carries no user_id.
	ErrMissingUserID = errors.New("service_info: user_id is required")

	// ErrUnknownExecutor is returned for an executor name this client does not know.
	ErrUnknownExecutor = errors.New("unknown executor")

	// ErrUnsupportedOperation is returned when an executor cannot serve an operation kind.
	ErrUnsupportedOperation = errors.New("operation not supported by executor")
)

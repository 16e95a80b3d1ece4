package exception

import "github.com/yanun0323/errors"

// Transport errors
var (
	// ErrTimeout is returned by the gateway once every attempt went unanswered.
	ErrTimeout = errors.New("transport: no reply within timeout")

	// ErrUnknownEndpoint is returned when a service has no configured address.
	ErrUnknownEndpoint = errors.New("transport: unknown service endpoint")

	// ErrMalformedFrame is returned for multipart messages with an unexpected shape.
	ErrMalformedFrame = errors.New("transport: malformed frame")

	ErrBrokerClosed = errors.New("broker: closed")
)

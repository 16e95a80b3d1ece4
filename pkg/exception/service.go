package exception

import "github.com/yanun0323/errors"

// Service errors
var (
	ErrUnknownService = errors.New("service: unknown service")
	ErrStaleRequest   = errors.New("service: stale request")
	ErrHandler        = errors.New("service: handler failed")
	ErrUpstream       = errors.New("service: upstream unavailable")
	ErrNotFound       = errors.New("service: not found")
)

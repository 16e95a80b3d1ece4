package gateway

import (
	"context"
	"time"

	"github.com/westonnelson/Alpha-sub001/internal/schema"
)

// Result is a decoded reply. OK is false when the service produced no
// usable result; Diagnostic may then explain why.
type Result[T any] struct {
	Value      T
	OK         bool
	Diagnostic string
}

// Fetch calls service and binds the reply result into T.
func Fetch[T any](ctx context.Context, g *Gateway, service schema.Service, req any, timeout time.Duration, maxRetries int) (Result[T], error) {
	resp, err := g.Call(ctx, service, req, timeout, maxRetries)
	if err != nil {
		return Result[T]{}, err
	}

	out := Result[T]{Diagnostic: resp.Diagnostic}
	ok, err := resp.Bind(&out.Value)
	if err != nil {
		return Result[T]{Diagnostic: resp.Diagnostic}, err
	}
	out.OK = ok
	return out, nil
}

package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"
	"github.com/westonnelson/Alpha-sub001/internal/codec"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// pollSlice bounds how long one poll blocks so context cancellation is
// noticed between slices.
const pollSlice = 100 * time.Millisecond

// Config describes how a gateway reaches the brokers.
type Config struct {
	// Identity is sent as the client identity frame. Defaults to a uuid.
	Identity  string
	Endpoints *schema.Endpoints
	// Context is the shared socket factory. When nil the gateway owns one.
	Context *zmq.Context
	// Clock stamps CreatedAt. Defaults to time.Now.
	Clock   func() time.Time
	Metrics *obs.Metrics
}

// Gateway issues calls to named services. It is safe for concurrent use;
// every attempt uses its own socket.
type Gateway struct {
	identity  []byte
	endpoints *schema.Endpoints
	zctx      *zmq.Context
	ownsCtx   bool
	clock     func() time.Time
	metrics   *obs.Metrics
}

// New creates a gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Endpoints == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "gateway endpoints")
	}
	if cfg.Identity == "" {
		cfg.Identity = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	g := &Gateway{
		identity:  []byte(cfg.Identity),
		endpoints: cfg.Endpoints,
		zctx:      cfg.Context,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
	}
	if g.zctx == nil {
		zctx, err := zmq.NewContext()
		if err != nil {
			return nil, errors.Wrap(err, "create zmq context")
		}
		g.zctx = zctx
		g.ownsCtx = true
	}
	return g, nil
}

// Identity returns the client identity sent with every request.
func (g *Gateway) Identity() string {
	return string(g.identity)
}

// Close releases the socket factory when the gateway owns it.
func (g *Gateway) Close() error {
	if g.ownsCtx {
		return g.zctx.Term()
	}
	return nil
}

// Call sends req to service and waits up to timeout for the reply. When no
// reply arrives it tries again, up to maxRetries more times, each attempt on
// a fresh socket. Exhausted retries return an error wrapping
// exception.ErrTimeout.
func (g *Gateway) Call(ctx context.Context, service schema.Service, req any, timeout time.Duration, maxRetries int) (codec.Response, error) {
	addr, ok := g.endpoints.Resolve(service)
	if !ok {
		return codec.Response{}, fmt.Errorf("%w: %s", exception.ErrUnknownEndpoint, service)
	}
	if timeout <= 0 {
		return codec.Response{}, fmt.Errorf("%w: timeout must be positive", exception.ErrInvalidArgument)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	envelope, err := codec.NewRequest(service, g.identity, req)
	if err != nil {
		return codec.Response{}, err
	}

	start := time.Now()
	var lastErr error
	attempts := 0
	for attempts <= maxRetries {
		attempts++
		resp, err := g.attempt(ctx, addr, envelope, timeout)
		if err == nil {
			g.metrics.ObserveCall(time.Since(start), attempts, false)
			return resp, nil
		}
		if ctx.Err() != nil {
			g.metrics.ObserveCall(time.Since(start), attempts, false)
			return codec.Response{}, fmt.Errorf("call %s: %w", service, ctx.Err())
		}
		if !retryable(err) {
			g.metrics.ObserveCall(time.Since(start), attempts, false)
			return codec.Response{}, err
		}
		lastErr = err
		if attempts <= maxRetries {
			logs.Debugf("gateway: %s attempt %d failed, retrying: %v", service, attempts, err)
		}
	}

	g.metrics.ObserveCall(time.Since(start), attempts, true)
	return codec.Response{}, fmt.Errorf("%w: %s after %d attempts: %w", exception.ErrTimeout, service, attempts, lastErr)
}

// attempt performs one request/reply exchange on its own REQ socket.
func (g *Gateway) attempt(ctx context.Context, addr string, envelope codec.Request, timeout time.Duration) (codec.Response, error) {
	sock, err := g.zctx.NewSocket(zmq.REQ)
	if err != nil {
		return codec.Response{}, errors.Wrap(err, "create socket").With("addr", addr)
	}
	defer sock.Close()

	if err := sock.SetLinger(0); err != nil {
		return codec.Response{}, errors.Wrap(err, "set linger")
	}
	if err := sock.SetSndtimeo(timeout); err != nil {
		return codec.Response{}, errors.Wrap(err, "set send timeout")
	}
	if err := sock.Connect(addr); err != nil {
		return codec.Response{}, errors.Wrap(err, "connect").With("addr", addr)
	}

	envelope.Stamp(g.clock())
	frames, err := envelope.Frames()
	if err != nil {
		return codec.Response{}, err
	}

	deadline := time.Now().Add(timeout)
	if _, err := sock.SendMessage(frames); err != nil {
		return codec.Response{}, fmt.Errorf("%w: send to %s: %v", errNoReply, addr, err)
	}

	poller := zmq.NewPoller()
	poller.Add(sock, zmq.POLLIN)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return codec.Response{}, fmt.Errorf("%w from %s within %s", errNoReply, addr, timeout)
		}
		if err := ctx.Err(); err != nil {
			return codec.Response{}, err
		}

		polled, err := poller.Poll(min(remaining, pollSlice))
		if err != nil {
			return codec.Response{}, fmt.Errorf("%w: poll %s: %v", errNoReply, addr, err)
		}
		if len(polled) == 0 {
			continue
		}

		reply, err := sock.RecvMessageBytes(0)
		if err != nil {
			return codec.Response{}, fmt.Errorf("%w: receive from %s: %v", errNoReply, addr, err)
		}
		if len(reply) != 1 {
			return codec.Response{}, fmt.Errorf("%w: reply has %d frames", exception.ErrMalformedFrame, len(reply))
		}
		return codec.ParseResponse(reply[0])
	}
}

// errNoReply marks attempt failures that a retry may fix.
var errNoReply = stderrors.New("no reply")

func retryable(err error) bool {
	return stderrors.Is(err, errNoReply)
}

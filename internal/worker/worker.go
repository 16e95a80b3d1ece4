package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/westonnelson/Alpha-sub001/internal/broker"
	"github.com/westonnelson/Alpha-sub001/internal/codec"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers = 2
	defaultMaxAge  = 30 * time.Second
	pollSlice      = 100 * time.Millisecond

	diagMalformed = "malformed request"
	diagStale     = "request expired before it was handled"
	diagInternal  = "internal error"
)

// Handler computes the reply for one request. A non-nil error is logged and
// the caller receives (nil, diagnostic).
type Handler func(ctx context.Context, req codec.Request) (result any, diagnostic string, err error)

// Handlers is the static dispatch table of a pool.
type Handlers map[schema.Service]Handler

// Config describes a worker pool.
type Config struct {
	Name    string
	Backend string
	// Context is the shared socket factory. When nil the pool owns one.
	Context *zmq.Context
	Workers int
	// MaxAge is the oldest request still worth answering. Zero uses the
	// default; negative disables the check.
	MaxAge time.Duration
	// ReplyStale answers stale requests with a diagnostic instead of
	// dropping them silently.
	ReplyStale bool
	Clock      func() time.Time
	Metrics    *obs.Metrics
}

// Pool runs a fixed number of identical workers against a broker backend.
type Pool struct {
	cfg      Config
	handlers Handlers
	zctx     *zmq.Context
	ownsCtx  bool
}

// NewPool validates cfg and prepares a pool. Workers start in Run.
func NewPool(cfg Config, handlers Handlers) (*Pool, error) {
	if cfg.Backend == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "worker backend address is required")
	}
	if len(handlers) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "worker handlers are required")
	}
	for service, h := range handlers {
		if h == nil {
			return nil, errors.Wrap(exception.ErrNilInstance, "nil handler").With("service", service)
		}
	}
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	p := &Pool{cfg: cfg, handlers: handlers, zctx: cfg.Context}
	if p.zctx == nil {
		zctx, err := zmq.NewContext()
		if err != nil {
			return nil, errors.Wrap(err, "create zmq context")
		}
		p.zctx = zctx
		p.ownsCtx = true
	}
	return p, nil
}

// Run starts every worker and blocks until ctx is done or a worker fails to
// set up its socket.
func (p *Pool) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := range p.cfg.Workers {
		eg.Go(func() error {
			return p.work(ctx, i)
		})
	}
	logs.Infof("%s: %d workers serving %d services on %s", p.cfg.Name, p.cfg.Workers, len(p.handlers), p.cfg.Backend)

	err := eg.Wait()
	if p.ownsCtx {
		_ = p.zctx.Term()
	}
	return err
}

func (p *Pool) work(ctx context.Context, id int) error {
	sock, err := p.zctx.NewSocket(zmq.DEALER)
	if err != nil {
		return errors.Wrap(err, "create socket").With("worker", id)
	}
	defer sock.Close()

	if err := sock.SetLinger(0); err != nil {
		return errors.Wrap(err, "set linger").With("worker", id)
	}
	if err := sock.Connect(p.cfg.Backend); err != nil {
		return errors.Wrap(err, "connect").With("worker", id).With("addr", p.cfg.Backend)
	}
	if _, err := sock.SendMessage("", broker.Ready); err != nil {
		return errors.Wrap(err, "announce ready").With("worker", id)
	}

	poller := zmq.NewPoller()
	poller.Add(sock, zmq.POLLIN)
	shutdown := sys.Shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-shutdown:
			return nil
		default:
		}

		polled, err := poller.Poll(pollSlice)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return nil
			}
			logs.Warnf("%s[%d]: poll: %v", p.cfg.Name, id, err)
			continue
		}
		if len(polled) == 0 {
			continue
		}

		frames, err := sock.RecvMessageBytes(0)
		if err != nil {
			logs.Warnf("%s[%d]: receive: %v", p.cfg.Name, id, err)
			continue
		}

		reply := p.serve(ctx, id, frames)
		if _, err := sock.SendMessage(reply); err != nil {
			logs.Warnf("%s[%d]: send reply: %v", p.cfg.Name, id, err)
		}
	}
}

// serve turns one broker message ["", route..., "", client, service,
// payload] into the frames to send back. A READY-only message tells the
// broker the request was dropped.
func (p *Pool) serve(ctx context.Context, id int, frames [][]byte) [][]byte {
	route, body, ok := split(frames)
	if !ok {
		p.cfg.Metrics.IncDecodeFailure()
		logs.Warnf("%s[%d]: unroutable message with %d frames", p.cfg.Name, id, len(frames))
		return ready()
	}

	req, err := codec.ParseRequest(body)
	if err != nil {
		p.cfg.Metrics.IncDecodeFailure()
		logs.Warnf("%s[%d]: %v", p.cfg.Name, id, err)
		return reply(route, codec.Response{Diagnostic: diagMalformed})
	}
	req.Origin = route

	if p.cfg.MaxAge > 0 && req.Stale(p.cfg.Clock(), p.cfg.MaxAge) {
		p.cfg.Metrics.IncStaleDrop()
		logs.Debugf("%s[%d]: %v: %s created %s", p.cfg.Name, id, exception.ErrStaleRequest, req.Service, req.Created())
		if p.cfg.ReplyStale {
			return reply(route, codec.Response{Diagnostic: diagStale})
		}
		return ready()
	}

	handler, ok := p.handlers[req.Service]
	if !ok {
		p.cfg.Metrics.IncUnknownService()
		logs.Debugf("%s[%d]: %v: %q", p.cfg.Name, id, exception.ErrUnknownService, req.Service)
		return reply(route, codec.Empty())
	}

	start := time.Now()
	result, diagnostic, err := p.dispatch(ctx, handler, req)
	p.cfg.Metrics.ObserveRequest(time.Since(start))
	if err != nil {
		p.cfg.Metrics.IncHandlerFailure()
		logs.Errorf("%s[%d]: %s: %v", p.cfg.Name, id, req.Service, err)
		if diagnostic == "" {
			diagnostic = diagInternal
		}
		return reply(route, codec.Response{Diagnostic: diagnostic})
	}

	resp, err := codec.NewResponse(result, diagnostic)
	if err != nil {
		p.cfg.Metrics.IncHandlerFailure()
		logs.Errorf("%s[%d]: %s: encode result: %v", p.cfg.Name, id, req.Service, err)
	}
	return reply(route, resp)
}

// dispatch runs handler and converts a panic into ErrHandler.
func (p *Pool) dispatch(ctx context.Context, handler Handler, req codec.Request) (result any, diagnostic string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, diagnostic = nil, ""
			err = fmt.Errorf("%w: panic: %v\n%s", exception.ErrHandler, r, debug.Stack())
		}
	}()
	result, diagnostic, err = handler(ctx, req)
	if err != nil {
		err = fmt.Errorf("%w: %w", exception.ErrHandler, err)
	}
	return result, diagnostic, err
}

func split(frames [][]byte) (route, body [][]byte, ok bool) {
	if len(frames) < 3 || len(frames[0]) != 0 {
		return nil, nil, false
	}
	for i := 1; i < len(frames); i++ {
		if len(frames[i]) == 0 {
			if i == 1 {
				return nil, nil, false
			}
			return frames[1:i], frames[i+1:], true
		}
	}
	return nil, nil, false
}

func ready() [][]byte {
	return [][]byte{{}, []byte(broker.Ready)}
}

func reply(route [][]byte, resp codec.Response) [][]byte {
	frame, err := resp.Frame()
	if err != nil {
		logs.Errorf("worker: encode response: %v", err)
		frame, _ = codec.Empty().Frame()
	}
	out := make([][]byte, 0, len(route)+3)
	out = append(out, []byte{})
	out = append(out, route...)
	out = append(out, []byte{}, frame)
	return out
}

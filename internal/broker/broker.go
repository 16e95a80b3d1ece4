package broker

import (
	"bytes"
	"context"
	"slices"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/westonnelson/Alpha-sub001/internal/chaos"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Ready is the single frame a worker sends when it is idle without a reply
// to deliver: once at startup and after dropping a request.
const Ready = "\x01"

const defaultPollInterval = 100 * time.Millisecond

// Config describes the two addresses a broker binds.
type Config struct {
	// Frontend is where callers connect their REQ sockets.
	Frontend string
	// Backend is where workers connect their DEALER sockets.
	Backend string
	// Context is shared with in-process workers and callers. When nil the
	// broker owns a private context and terminates it on shutdown.
	Context      *zmq.Context
	Chaos        *chaos.Engine
	Metrics      *obs.Metrics
	PollInterval time.Duration
}

type delayed struct {
	due    time.Time
	frames [][]byte
}

// Broker relays requests from callers to the least recently used idle
// worker and relays replies back. Payloads are never inspected.
type Broker struct {
	cfg      Config
	zctx     *zmq.Context
	ownsCtx  bool
	frontend *zmq.Socket
	backend  *zmq.Socket

	idle    [][]byte
	pending [][][]byte
	delayed []delayed
}

// New binds both sockets. Run must be called to start routing.
func New(cfg Config) (*Broker, error) {
	if cfg.Frontend == "" || cfg.Backend == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "broker addresses are required").
			With("frontend", cfg.Frontend).With("backend", cfg.Backend)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	b := &Broker{cfg: cfg, zctx: cfg.Context}
	if b.zctx == nil {
		zctx, err := zmq.NewContext()
		if err != nil {
			return nil, errors.Wrap(err, "create zmq context")
		}
		b.zctx = zctx
		b.ownsCtx = true
	}

	var err error
	if b.frontend, err = b.bind(zmq.ROUTER, cfg.Frontend); err != nil {
		b.close()
		return nil, err
	}
	if b.backend, err = b.bind(zmq.ROUTER, cfg.Backend); err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) bind(kind zmq.Type, addr string) (*zmq.Socket, error) {
	sock, err := b.zctx.NewSocket(kind)
	if err != nil {
		return nil, errors.Wrap(err, "create socket").With("addr", addr)
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return nil, errors.Wrap(err, "set linger").With("addr", addr)
	}
	if err := sock.Bind(addr); err != nil {
		_ = sock.Close()
		return nil, errors.Wrap(err, "bind").With("addr", addr)
	}
	return sock, nil
}

// Run routes until ctx is done, then closes both sockets. Requests still
// queued are lost; their callers observe a timeout.
func (b *Broker) Run(ctx context.Context) error {
	defer b.close()

	poller := zmq.NewPoller()
	poller.Add(b.backend, zmq.POLLIN)
	poller.Add(b.frontend, zmq.POLLIN)

	logs.Infof("broker: routing %s -> %s", b.cfg.Frontend, b.cfg.Backend)
	for {
		select {
		case <-ctx.Done():
			logs.Infof("broker: shutting down, %d queued requests discarded", len(b.pending)+len(b.delayed))
			return nil
		default:
		}

		polled, err := poller.Poll(b.pollTimeout(time.Now()))
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return exception.ErrBrokerClosed
			}
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			return errors.Wrap(err, "poll")
		}

		for _, p := range polled {
			switch p.Socket {
			case b.backend:
				b.fromWorker()
			case b.frontend:
				b.fromCaller()
			}
		}
		b.releaseDelayed(time.Now())
	}
}

func (b *Broker) pollTimeout(now time.Time) time.Duration {
	timeout := b.cfg.PollInterval
	if len(b.delayed) > 0 {
		if wait := b.delayed[0].due.Sub(now); wait < timeout {
			timeout = max(wait, 0)
		}
	}
	return timeout
}

// fromWorker handles [worker, "", READY] and [worker, "", route..., "", reply].
func (b *Broker) fromWorker() {
	frames, err := b.backend.RecvMessageBytes(0)
	if err != nil {
		logs.Warnf("broker: receive from worker: %v", err)
		return
	}
	if len(frames) < 3 || len(frames[1]) != 0 {
		logs.Warnf("broker: malformed worker message with %d frames", len(frames))
		return
	}
	worker, body := frames[0], frames[2:]

	if !(len(body) == 1 && string(body[0]) == Ready) {
		if _, err := b.frontend.SendMessage(body); err != nil {
			logs.Warnf("broker: relay reply: %v", err)
		} else {
			b.cfg.Metrics.IncRelayed()
		}
	}
	b.markIdle(worker)
	b.drain()
}

// fromCaller handles [route..., "", client, service, payload].
func (b *Broker) fromCaller() {
	frames, err := b.frontend.RecvMessageBytes(0)
	if err != nil {
		logs.Warnf("broker: receive from caller: %v", err)
		return
	}
	if len(frames) < 2 {
		logs.Warnf("broker: malformed caller message with %d frames", len(frames))
		b.cfg.Metrics.IncDropped()
		return
	}

	verdict := b.cfg.Chaos.Decide()
	if verdict.Drop {
		b.cfg.Metrics.IncDropped()
		logs.Debugf("broker: chaos dropped request")
		return
	}
	copies := 1
	if verdict.Duplicate {
		copies = 2
	}
	for range copies {
		if verdict.Delay > 0 {
			b.postpone(frames, time.Now().Add(verdict.Delay))
			continue
		}
		b.enqueue(frames)
	}
	b.drain()
}

func (b *Broker) postpone(frames [][]byte, due time.Time) {
	i, _ := slices.BinarySearchFunc(b.delayed, due, func(d delayed, t time.Time) int {
		return d.due.Compare(t)
	})
	b.delayed = slices.Insert(b.delayed, i, delayed{due: due, frames: frames})
}

func (b *Broker) releaseDelayed(now time.Time) {
	n := 0
	for n < len(b.delayed) && !b.delayed[n].due.After(now) {
		b.enqueue(b.delayed[n].frames)
		n++
	}
	if n > 0 {
		b.delayed = slices.Delete(b.delayed, 0, n)
		b.drain()
	}
}

func (b *Broker) enqueue(frames [][]byte) {
	if len(b.idle) == 0 {
		b.cfg.Metrics.IncQueued()
	}
	b.pending = append(b.pending, frames)
}

// drain hands queued requests to idle workers, least recently freed first.
func (b *Broker) drain() {
	for len(b.pending) > 0 && len(b.idle) > 0 {
		worker := b.idle[0]
		b.idle = b.idle[1:]
		frames := b.pending[0]
		b.pending[0] = nil
		b.pending = b.pending[1:]

		if _, err := b.backend.SendMessage(worker, "", frames); err != nil {
			logs.Warnf("broker: dispatch to worker %x: %v", worker, err)
			b.cfg.Metrics.IncDropped()
			continue
		}
		b.cfg.Metrics.IncRelayed()
	}
}

func (b *Broker) markIdle(worker []byte) {
	for _, w := range b.idle {
		if bytes.Equal(w, worker) {
			return
		}
	}
	b.idle = append(b.idle, worker)
}

func (b *Broker) close() {
	if b.frontend != nil {
		_ = b.frontend.Close()
		b.frontend = nil
	}
	if b.backend != nil {
		_ = b.backend.Close()
		b.backend = nil
	}
	if b.ownsCtx && b.zctx != nil {
		_ = b.zctx.Term()
		b.zctx = nil
	}
}

package gateway

import (
	"context"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/westonnelson/Alpha-sub001/internal/codec"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
)

func newTestGateway(t *testing.T, addr string, metrics *obs.Metrics) *Gateway {
	t.Helper()
	endpoints := schema.NewEndpoints()
	require.NoError(t, endpoints.Set(schema.FamilyMarket, addr))
	g, err := New(Config{Identity: "test-client", Endpoints: endpoints, Metrics: metrics})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	g, err := New(Config{Endpoints: schema.NewEndpoints()})
	require.NoError(t, err)
	defer g.Close()
	assert.Len(t, g.Identity(), 36)
}

func TestCallUnknownEndpoint(t *testing.T) {
	g := newTestGateway(t, "inproc://unused", nil)
	_, err := g.Call(t.Context(), schema.ServiceAccountFetch, map[string]string{"id": "1"}, time.Second, 0)
	assert.ErrorIs(t, err, exception.ErrUnknownEndpoint)

	_, err = g.Call(t.Context(), schema.ServiceQuote, map[string]string{}, 0, 0)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestCallUnreachableTimesOutAfterAllRetries(t *testing.T) {
	metrics := obs.NewMetrics()
	g := newTestGateway(t, "tcp://127.0.0.1:1", metrics)

	start := time.Now()
	resp, err := g.Call(t.Context(), schema.ServiceQuote, map[string]string{"ticker": "BTCUSDT"}, time.Second, 2)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, exception.ErrTimeout)
	assert.False(t, resp.OK())
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
	assert.Less(t, elapsed, 4*time.Second)

	s := metrics.Snapshot()
	assert.Equal(t, uint64(1), s.Calls)
	assert.Equal(t, uint64(2), s.Retries)
	assert.Equal(t, uint64(1), s.Timeouts)
}

func TestCallStopsOnContextCancel(t *testing.T) {
	g := newTestGateway(t, "tcp://127.0.0.1:1", nil)
	ctx, cancel := context.WithTimeout(t.Context(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Call(ctx, schema.ServiceQuote, map[string]string{}, time.Second, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, exception.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

// echoServer answers every request on a REP socket with the request
// payload as result.
func echoServer(t *testing.T, zctx *zmq.Context, addr string) <-chan codec.Request {
	t.Helper()
	rep, err := zctx.NewSocket(zmq.REP)
	require.NoError(t, err)
	require.NoError(t, rep.SetLinger(0))
	require.NoError(t, rep.SetRcvtimeo(50*time.Millisecond))
	require.NoError(t, rep.Bind(addr))

	seen := make(chan codec.Request, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer rep.Close()
		for t.Context().Err() == nil {
			frames, err := rep.RecvMessageBytes(0)
			if err != nil {
				continue
			}
			req, err := codec.ParseRequest(frames)
			if err != nil {
				continue
			}
			seen <- req
			var body map[string]string
			_ = req.Bind(&body)
			resp, _ := codec.NewResponse(body, "echo")
			frame, _ := resp.Frame()
			_, _ = rep.SendBytes(frame, 0)
		}
	}()
	t.Cleanup(func() { <-done })
	return seen
}

func TestCallAndFetchRoundTrip(t *testing.T) {
	zctx, err := zmq.NewContext()
	require.NoError(t, err)
	t.Cleanup(func() { _ = zctx.Term() })

	seen := echoServer(t, zctx, "inproc://gateway-echo")

	endpoints := schema.NewEndpoints()
	require.NoError(t, endpoints.Set(schema.FamilyMarket, "inproc://gateway-echo"))
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g, err := New(Config{
		Identity:  "bot-7",
		Endpoints: endpoints,
		Context:   zctx,
		Clock:     func() time.Time { return fixed },
	})
	require.NoError(t, err)

	res, err := Fetch[map[string]string](t.Context(), g, schema.ServiceQuote, map[string]string{"ticker": "ETHUSDT"}, time.Second, 0)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "echo", res.Diagnostic)
	assert.Equal(t, map[string]string{"ticker": "ETHUSDT"}, res.Value)

	req := <-seen
	assert.Equal(t, []byte("bot-7"), req.Client)
	assert.Equal(t, schema.ServiceQuote, req.Service)
	assert.Equal(t, fixed, req.Created().UTC())
}

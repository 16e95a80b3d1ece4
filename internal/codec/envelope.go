package codec

import (
	"fmt"
	"time"

	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
)

// Request is the envelope around one caller request. Origin, Client and
// Service travel as separate frames; only CreatedAt and Payload are encoded.
type Request struct {
	Origin    [][]byte       `msgpack:"-"`
	Client    []byte         `msgpack:"-"`
	Service   schema.Service `msgpack:"-"`
	CreatedAt float64        `msgpack:"created_at"`
	Payload   []byte         `msgpack:"payload"`
}

// NewRequest serializes body into a request envelope for service.
func NewRequest(service schema.Service, client []byte, body any) (Request, error) {
	payload, err := Marshal(body)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Client:  client,
		Service: service,
		Payload: payload,
	}, nil
}

// Stamp sets CreatedAt to t in fractional unix seconds.
func (r *Request) Stamp(t time.Time) {
	r.CreatedAt = float64(t.UnixNano()) / float64(time.Second)
}

// Created returns CreatedAt as a time.
func (r Request) Created() time.Time {
	return time.Unix(0, int64(r.CreatedAt*float64(time.Second)))
}

// Stale reports whether the request is older than maxAge at now.
func (r Request) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return r.Created().Add(maxAge).Before(now)
}

// Bind decodes the request payload into v.
func (r Request) Bind(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: empty request payload", exception.ErrDecode)
	}
	return Unmarshal(r.Payload, v)
}

// Frames returns the multipart request body [client, service, payload].
func (r Request) Frames() ([][]byte, error) {
	encoded, err := Encode(r)
	if err != nil {
		return nil, err
	}
	return [][]byte{r.Client, []byte(r.Service), encoded}, nil
}

// ParseRequest decodes [client, service, payload] frames.
func ParseRequest(frames [][]byte) (Request, error) {
	if len(frames) != 3 {
		return Request{}, fmt.Errorf("%w: request has %d frames", exception.ErrMalformedFrame, len(frames))
	}
	var req Request
	if err := Decode(frames[2], &req); err != nil {
		return Request{}, err
	}
	req.Client = frames[0]
	req.Service = schema.Service(frames[1])
	return req, nil
}

// Response wraps a (result, diagnostic) pair. Result is nil when the call
// produced nothing usable.
type Response struct {
	Result     []byte `msgpack:"result"`
	Diagnostic string `msgpack:"diagnostic"`
}

// NewResponse serializes result into a response. A nil result yields an
// absent Result.
func NewResponse(result any, diagnostic string) (Response, error) {
	resp := Response{Diagnostic: diagnostic}
	if result == nil {
		return resp, nil
	}
	raw, err := Marshal(result)
	if err != nil {
		return Response{Diagnostic: diagnostic}, err
	}
	resp.Result = raw
	return resp, nil
}

// Empty returns the response sent when there is nothing to say.
func Empty() Response {
	return Response{}
}

// OK reports whether a result is present.
func (r Response) OK() bool {
	return len(r.Result) != 0
}

// Bind decodes the result into v. It returns false without error when the
// result is absent.
func (r Response) Bind(v any) (bool, error) {
	if !r.OK() {
		return false, nil
	}
	if err := Unmarshal(r.Result, v); err != nil {
		return false, err
	}
	return true, nil
}

// Frame encodes the response into its single wire frame.
func (r Response) Frame() ([]byte, error) {
	return Encode(r)
}

// ParseResponse decodes the single response frame.
func ParseResponse(frame []byte) (Response, error) {
	var resp Response
	if err := Decode(frame, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
)

type candle struct {
	OpenTime int64   `msgpack:"t"`
	Open     float64 `msgpack:"o"`
	Close    float64 `msgpack:"c"`
}

type nested struct {
	Ticker  string            `msgpack:"ticker"`
	Tags    []string          `msgpack:"tags"`
	Labels  map[string]string `msgpack:"labels"`
	Candles []candle          `msgpack:"candles"`
	Ptr     *candle           `msgpack:"ptr"`
	Raw     []byte            `msgpack:"raw"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []nested{
		{},
		{Ticker: "BTCUSDT"},
		{
			Ticker:  "ETHUSDT",
			Tags:    []string{"spot", "binance"},
			Labels:  map[string]string{"b": "2", "a": "1"},
			Candles: []candle{{OpenTime: 1, Open: 1.5, Close: 2.25}, {OpenTime: 2, Open: 2.25, Close: 2}},
			Ptr:     &candle{OpenTime: 9},
			Raw:     []byte{0, 1, 2, 255},
		},
	}

	for _, v := range values {
		data, err := Encode(v)
		require.NoError(t, err)

		var got nested
		require.NoError(t, Decode(data, &got))
		assert.Equal(t, v, got)
	}
}

func TestMarshalSortsMapKeys(t *testing.T) {
	a, err := Marshal(map[string]int{"a": 1, "b": 2, "c": 3})
	require.NoError(t, err)
	b, err := Marshal(map[string]int{"c": 3, "b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeCorruptedInput(t *testing.T) {
	data, err := Encode(nested{Ticker: "BTCUSDT", Tags: []string{"x"}})
	require.NoError(t, err)

	var out nested
	require.ErrorIs(t, Decode(nil, &out), exception.ErrDecode)
	require.ErrorIs(t, Decode(data[:len(data)/2], &out), exception.ErrDecode)
	require.ErrorIs(t, Decode([]byte("not zlib at all"), &out), exception.ErrDecode)
}

func TestRequestFramesRoundTrip(t *testing.T) {
	req, err := NewRequest(schema.ServiceQuote, []byte("bot-1"), map[string]string{"ticker": "btcusdt"})
	require.NoError(t, err)
	req.Stamp(time.Unix(1700000000, 500_000_000))

	frames, err := req.Frames()
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []byte("bot-1"), frames[0])
	assert.Equal(t, []byte("quote"), frames[1])

	got, err := ParseRequest(frames)
	require.NoError(t, err)
	assert.Equal(t, schema.ServiceQuote, got.Service)
	assert.Equal(t, []byte("bot-1"), got.Client)
	assert.InDelta(t, 1700000000.5, got.CreatedAt, 1e-6)

	var body map[string]string
	require.NoError(t, got.Bind(&body))
	assert.Equal(t, "btcusdt", body["ticker"])

	_, err = ParseRequest(frames[:2])
	require.ErrorIs(t, err, exception.ErrMalformedFrame)
}

func TestRequestStale(t *testing.T) {
	now := time.Now()
	var req Request
	req.Stamp(now.Add(-31 * time.Second))
	assert.True(t, req.Stale(now, 30*time.Second))

	req.Stamp(now.Add(-29 * time.Second))
	assert.False(t, req.Stale(now, 30*time.Second))
	assert.False(t, req.Stale(now, 0))
}

func TestResponseAbsentResult(t *testing.T) {
	resp, err := NewResponse(nil, "could not retrieve data")
	require.NoError(t, err)

	frame, err := resp.Frame()
	require.NoError(t, err)
	got, err := ParseResponse(frame)
	require.NoError(t, err)
	assert.False(t, got.OK())
	assert.Equal(t, "could not retrieve data", got.Diagnostic)

	var out candle
	ok, err := got.Bind(&out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResponseBind(t *testing.T) {
	resp, err := NewResponse(candle{OpenTime: 7, Open: 1, Close: 3}, "")
	require.NoError(t, err)

	frame, err := resp.Frame()
	require.NoError(t, err)
	got, err := ParseResponse(frame)
	require.NoError(t, err)

	var out candle
	ok, err := got.Bind(&out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, candle{OpenTime: 7, Open: 1, Close: 3}, out)
}

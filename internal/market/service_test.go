package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/westonnelson/Alpha-sub001/internal/cache"
	"github.com/westonnelson/Alpha-sub001/internal/codec"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int
	fail  error
	price float64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: make(map[string]int), price: 100}
}

func (f *fakeProvider) hit(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	f.price++
	return f.fail
}

func (f *fakeProvider) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeProvider) Name() string { return "binance" }

func (f *fakeProvider) Quote(_ context.Context, ticker string) (Quote, error) {
	if err := f.hit("quote"); err != nil {
		return Quote{}, err
	}
	return Quote{Symbol: ticker, Exchange: "binance", Price: f.price}, nil
}

func (f *fakeProvider) Candles(_ context.Context, _ string, interval string, limit int) ([]Candle, error) {
	if err := f.hit("candles:" + interval); err != nil {
		return nil, err
	}
	return make([]Candle, limit), nil
}

func (f *fakeProvider) Detail(_ context.Context, ticker string) (Detail, error) {
	if err := f.hit("detail"); err != nil {
		return Detail{}, err
	}
	return Detail{Symbol: ticker, BaseAsset: "BTC", QuoteAsset: "USDT"}, nil
}

func (f *fakeProvider) Trades(_ context.Context, _ string, limit int) ([]Trade, error) {
	if err := f.hit("trades"); err != nil {
		return nil, err
	}
	return make([]Trade, limit), nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func request(t *testing.T, service schema.Service, body any) codec.Request {
	t.Helper()
	req, err := codec.NewRequest(service, []byte("test"), body)
	require.NoError(t, err)
	return req
}

func call(t *testing.T, s *Service, service schema.Service, body any) (any, string, error) {
	t.Helper()
	return s.Handlers()[service](t.Context(), request(t, service, body))
}

func TestCacheableRequestsHitUpstreamOnce(t *testing.T) {
	fake := newFakeProvider()
	metrics := obs.NewMetrics()
	s, err := NewService(Config{Metrics: metrics}, fake)
	require.NoError(t, err)

	first, _, err := call(t, s, schema.ServiceQuote, QuoteRequest{Ticker: "btc/usdt", Cacheable: true})
	require.NoError(t, err)
	second, _, err := call(t, s, schema.ServiceQuote, QuoteRequest{Ticker: " BTCUSDT ", Exchange: "Binance", Cacheable: true})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.count("quote"))
	assert.Equal(t, uint64(1), metrics.Snapshot().CacheHits)
	assert.Equal(t, uint64(1), metrics.Snapshot().CacheMisses)
}

func TestNonCacheableRequestsAlwaysFetch(t *testing.T) {
	fake := newFakeProvider()
	s, err := NewService(Config{}, fake)
	require.NoError(t, err)

	for range 3 {
		_, _, err := call(t, s, schema.ServiceQuote, QuoteRequest{Ticker: "ETHUSDT"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, fake.count("quote"))
}

func TestCachedQuoteExpiresAfterTTL(t *testing.T) {
	fake := newFakeProvider()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	s, err := NewService(Config{TTL: 30 * time.Second, Clock: clk.Now}, fake)
	require.NoError(t, err)

	req := QuoteRequest{Ticker: "BTCUSDT", Cacheable: true}
	_, _, err = call(t, s, schema.ServiceQuote, req)
	require.NoError(t, err)

	clk.Advance(29 * time.Second)
	s.quotes.Sweep()
	_, _, err = call(t, s, schema.ServiceQuote, req)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count("quote"))

	clk.Advance(3 * time.Second)
	s.quotes.Sweep()
	_, _, err = call(t, s, schema.ServiceQuote, req)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.count("quote"))
}

func TestDetailsNeverExpire(t *testing.T) {
	fake := newFakeProvider()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	s, err := NewService(Config{TTL: time.Second, Clock: clk.Now}, fake)
	require.NoError(t, err)

	req := DetailRequest{Ticker: "BTCUSDT", Cacheable: true}
	_, _, err = call(t, s, schema.ServiceDetail, req)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	s.details.Sweep()
	v, _, err := call(t, s, schema.ServiceDetail, req)
	require.NoError(t, err)
	assert.Equal(t, "BTC", v.(Detail).BaseAsset)
	assert.Equal(t, 1, fake.count("detail"))
}

func TestCandleAndTradeDefaults(t *testing.T) {
	fake := newFakeProvider()
	s, err := NewService(Config{}, fake)
	require.NoError(t, err)

	v, _, err := call(t, s, schema.ServiceCandle, CandleRequest{Ticker: "BTCUSDT"})
	require.NoError(t, err)
	assert.Len(t, v, defaultLimit)
	assert.Equal(t, 1, fake.count("candles:1h"))

	v, _, err = call(t, s, schema.ServiceTrades, TradesRequest{Ticker: "BTCUSDT", Limit: 5000})
	require.NoError(t, err)
	assert.Len(t, v, maxLimit)
}

func TestDefaultedRequestsShareCacheEntry(t *testing.T) {
	fake := newFakeProvider()
	s, err := NewService(Config{}, fake)
	require.NoError(t, err)

	for _, r := range []CandleRequest{
		{Ticker: "BTCUSDT", Cacheable: true},
		{Ticker: "btcusdt", Interval: defaultInterval, Limit: defaultLimit, Cacheable: true},
		{Ticker: "BTCUSDT", Interval: " 1h ", Limit: -3, Cacheable: true},
	} {
		v, _, err := call(t, s, schema.ServiceCandle, r)
		require.NoError(t, err)
		assert.Len(t, v, defaultLimit)
	}
	assert.Equal(t, 1, fake.count("candles:1h"))

	for _, r := range []TradesRequest{
		{Ticker: "BTCUSDT", Limit: 5000, Cacheable: true},
		{Ticker: "BTCUSDT", Limit: maxLimit, Cacheable: true},
	} {
		v, _, err := call(t, s, schema.ServiceTrades, r)
		require.NoError(t, err)
		assert.Len(t, v, maxLimit)
	}
	_, _, err = call(t, s, schema.ServiceTrades, TradesRequest{Ticker: "BTCUSDT", Cacheable: true})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.count("trades"))

	a, err := cache.Of(schema.ServiceCandle, CandleRequest{Ticker: "ETHUSDT"})
	require.NoError(t, err)
	b, err := cache.Of(schema.ServiceCandle, CandleRequest{Ticker: "ETHUSDT", Interval: "1h", Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUpstreamFailureDegrades(t *testing.T) {
	fake := newFakeProvider()
	fake.fail = errors.New("connection refused")
	s, err := NewService(Config{}, fake)
	require.NoError(t, err)

	v, diag, err := call(t, s, schema.ServiceQuote, QuoteRequest{Ticker: "BTCUSDT", Cacheable: true})
	assert.Error(t, err)
	assert.Nil(t, v)
	assert.Equal(t, "could not retrieve data for BTCUSDT", diag)
	assert.Zero(t, s.quotes.Len(), "failures are not cached")
}

func TestUnsupportedExchangeAndMissingTicker(t *testing.T) {
	s, err := NewService(Config{}, newFakeProvider())
	require.NoError(t, err)

	v, diag, err := call(t, s, schema.ServiceQuote, QuoteRequest{Ticker: "BTCUSDT", Exchange: "kraken"})
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, "kraken is not a supported exchange", diag)

	_, diag, err = call(t, s, schema.ServiceQuote, QuoteRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a ticker is required", diag)
}

func TestNewServiceRequiresProvider(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}

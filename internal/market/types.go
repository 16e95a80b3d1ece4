package market

import (
	"context"
	"strings"
)

const defaultExchange = "binance"

// QuoteRequest asks for the latest price of one ticker.
type QuoteRequest struct {
	Ticker    string `msgpack:"ticker"`
	Exchange  string `msgpack:"exchange"`
	Cacheable bool   `msgpack:"cacheable"`
}

// Normalize implements cache.Normalizer.
func (r QuoteRequest) Normalize() any {
	return QuoteRequest{Ticker: normTicker(r.Ticker), Exchange: normExchange(r.Exchange)}
}

// CandleRequest asks for the most recent candles of one ticker.
type CandleRequest struct {
	Ticker    string `msgpack:"ticker"`
	Exchange  string `msgpack:"exchange"`
	Interval  string `msgpack:"interval"`
	Limit     int    `msgpack:"limit"`
	Cacheable bool   `msgpack:"cacheable"`
}

// Normalize implements cache.Normalizer.
func (r CandleRequest) Normalize() any {
	return r.normalized()
}

// normalized applies the defaults the handler serves with, so requests that
// fetch the same candles share one cache key.
func (r CandleRequest) normalized() CandleRequest {
	interval := strings.TrimSpace(r.Interval)
	if interval == "" {
		interval = defaultInterval
	}
	return CandleRequest{
		Ticker:   normTicker(r.Ticker),
		Exchange: normExchange(r.Exchange),
		Interval: interval,
		Limit:    clampLimit(r.Limit),
	}
}

// DetailRequest asks for the static listing details of one ticker.
type DetailRequest struct {
	Ticker    string `msgpack:"ticker"`
	Exchange  string `msgpack:"exchange"`
	Cacheable bool   `msgpack:"cacheable"`
}

// Normalize implements cache.Normalizer.
func (r DetailRequest) Normalize() any {
	return DetailRequest{Ticker: normTicker(r.Ticker), Exchange: normExchange(r.Exchange)}
}

// TradesRequest asks for the most recent public trades of one ticker.
type TradesRequest struct {
	Ticker    string `msgpack:"ticker"`
	Exchange  string `msgpack:"exchange"`
	Limit     int    `msgpack:"limit"`
	Cacheable bool   `msgpack:"cacheable"`
}

// Normalize implements cache.Normalizer.
func (r TradesRequest) Normalize() any {
	return r.normalized()
}

func (r TradesRequest) normalized() TradesRequest {
	return TradesRequest{Ticker: normTicker(r.Ticker), Exchange: normExchange(r.Exchange), Limit: clampLimit(r.Limit)}
}

// Quote is the latest price snapshot.
type Quote struct {
	Symbol    string  `msgpack:"symbol"`
	Exchange  string  `msgpack:"exchange"`
	Price     float64 `msgpack:"price"`
	ChangePct float64 `msgpack:"change_pct"`
	Volume    float64 `msgpack:"volume"`
	Timestamp int64   `msgpack:"timestamp"`
}

// Candle is one OHLCV bar. OpenTime is in unix milliseconds.
type Candle struct {
	OpenTime int64   `msgpack:"open_time"`
	Open     float64 `msgpack:"open"`
	High     float64 `msgpack:"high"`
	Low      float64 `msgpack:"low"`
	Close    float64 `msgpack:"close"`
	Volume   float64 `msgpack:"volume"`
}

// Detail describes how a ticker is listed.
type Detail struct {
	Symbol     string  `msgpack:"symbol"`
	Exchange   string  `msgpack:"exchange"`
	BaseAsset  string  `msgpack:"base_asset"`
	QuoteAsset string  `msgpack:"quote_asset"`
	Status     string  `msgpack:"status"`
	TickSize   float64 `msgpack:"tick_size"`
	StepSize   float64 `msgpack:"step_size"`
}

// Trade is one public trade.
type Trade struct {
	ID         int64   `msgpack:"id"`
	Price      float64 `msgpack:"price"`
	Quantity   float64 `msgpack:"quantity"`
	Time       int64   `msgpack:"time"`
	BuyerMaker bool    `msgpack:"buyer_maker"`
}

// Provider fetches raw market data from one exchange.
type Provider interface {
	Name() string
	Quote(ctx context.Context, ticker string) (Quote, error)
	Candles(ctx context.Context, ticker, interval string, limit int) ([]Candle, error)
	Detail(ctx context.Context, ticker string) (Detail, error)
	Trades(ctx context.Context, ticker string, limit int) ([]Trade, error)
}

func normTicker(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}

func normExchange(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return defaultExchange
	}
	return s
}

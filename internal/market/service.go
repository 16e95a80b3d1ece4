package market

import (
	"context"
	"fmt"
	"time"

	"github.com/westonnelson/Alpha-sub001/internal/cache"
	"github.com/westonnelson/Alpha-sub001/internal/codec"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/westonnelson/Alpha-sub001/internal/worker"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
)

const (
	defaultTTL      = 30 * time.Second
	defaultInterval = "1h"
	defaultLimit    = 100
	maxLimit        = 1000
)

// Config controls the market service caches.
type Config struct {
	// TTL bounds how long quotes, candles and trades are reused. Details are
	// kept until restart.
	TTL     time.Duration
	Clock   func() time.Time
	Metrics *obs.Metrics
}

// Service answers market data requests from a set of exchange providers,
// reusing recent answers for cacheable requests.
type Service struct {
	providers map[string]Provider
	metrics   *obs.Metrics

	quotes  *cache.Cache[cache.Fingerprint, Quote]
	candles *cache.Cache[cache.Fingerprint, []Candle]
	trades  *cache.Cache[cache.Fingerprint, []Trade]
	details *cache.Cache[cache.Fingerprint, Detail]
}

// NewService creates a service over providers, keyed by Provider.Name.
func NewService(cfg Config, providers ...Provider) (*Service, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no market providers", exception.ErrInvalidArgument)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Service{
		providers: make(map[string]Provider, len(providers)),
		metrics:   cfg.Metrics,
		quotes:    cache.New[cache.Fingerprint, Quote](cache.WithTTL(cfg.TTL), cache.WithClock(cfg.Clock), cache.WithName("quotes")),
		candles:   cache.New[cache.Fingerprint, []Candle](cache.WithTTL(cfg.TTL), cache.WithClock(cfg.Clock), cache.WithName("candles")),
		trades:    cache.New[cache.Fingerprint, []Trade](cache.WithTTL(cfg.TTL), cache.WithClock(cfg.Clock), cache.WithName("trades")),
		details:   cache.New[cache.Fingerprint, Detail](cache.WithClock(cfg.Clock), cache.WithName("details")),
	}
	for _, p := range providers {
		if p == nil {
			return nil, exception.ErrNilInstance
		}
		s.providers[normExchange(p.Name())] = p
	}
	return s, nil
}

// Run evicts expired cache entries until ctx is done.
func (s *Service) Run(ctx context.Context) {
	done := make(chan struct{}, 3)
	for _, run := range []func(context.Context){s.quotes.Run, s.candles.Run, s.trades.Run} {
		go func() {
			run(ctx)
			done <- struct{}{}
		}()
	}
	for range 3 {
		<-done
	}
}

// Handlers returns the dispatch table for a worker pool.
func (s *Service) Handlers() worker.Handlers {
	return worker.Handlers{
		schema.ServiceQuote:  s.handleQuote,
		schema.ServiceCandle: s.handleCandle,
		schema.ServiceDetail: s.handleDetail,
		schema.ServiceTrades: s.handleTrades,
	}
}

func (s *Service) handleQuote(ctx context.Context, req codec.Request) (any, string, error) {
	var r QuoteRequest
	if err := req.Bind(&r); err != nil {
		return nil, "", err
	}
	ticker := normTicker(r.Ticker)
	p, diag := s.provider(r.Exchange, ticker)
	if p == nil {
		return nil, diag, nil
	}
	return through(s, s.quotes, schema.ServiceQuote, r, r.Cacheable, ticker, func() (Quote, error) {
		return p.Quote(ctx, ticker)
	})
}

func (s *Service) handleCandle(ctx context.Context, req codec.Request) (any, string, error) {
	var r CandleRequest
	if err := req.Bind(&r); err != nil {
		return nil, "", err
	}
	ticker := normTicker(r.Ticker)
	p, diag := s.provider(r.Exchange, ticker)
	if p == nil {
		return nil, diag, nil
	}
	n := r.normalized()
	return through(s, s.candles, schema.ServiceCandle, r, r.Cacheable, ticker, func() ([]Candle, error) {
		return p.Candles(ctx, ticker, n.Interval, n.Limit)
	})
}

func (s *Service) handleDetail(ctx context.Context, req codec.Request) (any, string, error) {
	var r DetailRequest
	if err := req.Bind(&r); err != nil {
		return nil, "", err
	}
	ticker := normTicker(r.Ticker)
	p, diag := s.provider(r.Exchange, ticker)
	if p == nil {
		return nil, diag, nil
	}
	return through(s, s.details, schema.ServiceDetail, r, r.Cacheable, ticker, func() (Detail, error) {
		return p.Detail(ctx, ticker)
	})
}

func (s *Service) handleTrades(ctx context.Context, req codec.Request) (any, string, error) {
	var r TradesRequest
	if err := req.Bind(&r); err != nil {
		return nil, "", err
	}
	ticker := normTicker(r.Ticker)
	p, diag := s.provider(r.Exchange, ticker)
	if p == nil {
		return nil, diag, nil
	}
	n := r.normalized()
	return through(s, s.trades, schema.ServiceTrades, r, r.Cacheable, ticker, func() ([]Trade, error) {
		return p.Trades(ctx, ticker, n.Limit)
	})
}

func (s *Service) provider(exchange, ticker string) (Provider, string) {
	if ticker == "" {
		return nil, "a ticker is required"
	}
	name := normExchange(exchange)
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Sprintf("%s is not a supported exchange", name)
	}
	return p, ""
}

// through serves a request from c when allowed, otherwise fetches and
// stores the fresh value.
func through[V any](s *Service, c *cache.Cache[cache.Fingerprint, V], service schema.Service, req any, cacheable bool, ticker string, fetch func() (V, error)) (any, string, error) {
	var key cache.Fingerprint
	if cacheable {
		var err error
		if key, err = cache.Of(service, req); err != nil {
			return nil, "", err
		}
		if v, ok := c.Lookup(key); ok {
			s.metrics.ObserveCache(true)
			return v, "", nil
		}
		s.metrics.ObserveCache(false)
	}

	v, err := fetch()
	if err != nil {
		return nil, fmt.Sprintf("could not retrieve data for %s", ticker), err
	}
	if cacheable {
		c.Set(key, v)
	}
	return v, "", nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

const (
	defaultBinanceURL = "https://api.binance.com"
	maxBodyBytes      = 4 << 20
)

var restAPI = sonic.Config{UseInt64: true}.Froze()

// BinanceProvider reads public spot market data from the Binance REST API.
type BinanceProvider struct {
	baseURL string
	client  *http.Client
}

// NewBinanceProvider creates a provider. An empty baseURL uses the public
// endpoint.
func NewBinanceProvider(baseURL string, timeout time.Duration) *BinanceProvider {
	if baseURL == "" {
		baseURL = defaultBinanceURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BinanceProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *BinanceProvider) Name() string {
	return defaultExchange
}

type binanceTicker struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	Volume             decimal.Decimal `json:"volume"`
	CloseTime          int64           `json:"closeTime"`
}

// Quote implements Provider.
func (p *BinanceProvider) Quote(ctx context.Context, ticker string) (Quote, error) {
	var t binanceTicker
	if err := p.get(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {ticker}}, &t); err != nil {
		return Quote{}, err
	}
	return Quote{
		Symbol:    t.Symbol,
		Exchange:  p.Name(),
		Price:     toFloat(t.LastPrice),
		ChangePct: toFloat(t.PriceChangePercent),
		Volume:    toFloat(t.Volume),
		Timestamp: t.CloseTime,
	}, nil
}

// Candles implements Provider. Binance encodes each kline as a positional
// array: [openTime, open, high, low, close, volume, closeTime, ...].
func (p *BinanceProvider) Candles(ctx context.Context, ticker, interval string, limit int) ([]Candle, error) {
	q := url.Values{"symbol": {ticker}, "interval": {interval}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var rows [][]any
	if err := p.get(ctx, "/api/v3/klines", q, &rows); err != nil {
		return nil, err
	}

	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, errors.Errorf("kline %d has %d fields", i, len(row))
		}
		openTime, ok := row[0].(int64)
		if !ok {
			return nil, errors.Errorf("kline %d open time is %T", i, row[0])
		}
		c := Candle{OpenTime: openTime}
		for j, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			s, _ := row[j+1].(string)
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrap(err, "parse kline field").With("row", i).With("field", j+1)
			}
			*dst = v
		}
		out = append(out, c)
	}
	return out, nil
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType string          `json:"filterType"`
			TickSize   decimal.Decimal `json:"tickSize"`
			StepSize   decimal.Decimal `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// Detail implements Provider.
func (p *BinanceProvider) Detail(ctx context.Context, ticker string) (Detail, error) {
	var info binanceExchangeInfo
	if err := p.get(ctx, "/api/v3/exchangeInfo", url.Values{"symbol": {ticker}}, &info); err != nil {
		return Detail{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != ticker {
			continue
		}
		d := Detail{
			Symbol:     s.Symbol,
			Exchange:   p.Name(),
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Status:     s.Status,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				d.TickSize = toFloat(f.TickSize)
			case "LOT_SIZE":
				d.StepSize = toFloat(f.StepSize)
			}
		}
		return d, nil
	}
	return Detail{}, errors.Wrap(exception.ErrNotFound, "symbol not listed").With("symbol", ticker)
}

type binanceTrade struct {
	ID           int64           `json:"id"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	Time         int64           `json:"time"`
	IsBuyerMaker bool            `json:"isBuyerMaker"`
}

// Trades implements Provider.
func (p *BinanceProvider) Trades(ctx context.Context, ticker string, limit int) ([]Trade, error) {
	q := url.Values{"symbol": {ticker}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var raw []binanceTrade
	if err := p.get(ctx, "/api/v3/trades", q, &raw); err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(raw))
	for _, t := range raw {
		out = append(out, Trade{
			ID:         t.ID,
			Price:      toFloat(t.Price),
			Quantity:   toFloat(t.Qty),
			Time:       t.Time,
			BuyerMaker: t.IsBuyerMaker,
		})
	}
	return out, nil
}

func (p *BinanceProvider) get(ctx context.Context, path string, query url.Values, v any) error {
	endpoint := p.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build request").With("path", path)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", exception.ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", exception.ErrUpstream, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d: %s", exception.ErrUpstream, path, resp.StatusCode, truncate(body, 200))
	}
	if err := restAPI.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "decode response").With("path", path)
	}
	return nil
}

func toFloat(d decimal.Decimal) float64 {
	v, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return 0
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

package cache

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetSetHasPop(t *testing.T) {
	c := New[string, int]()

	assert.Equal(t, -1, c.Get("a", -1))
	assert.False(t, c.Has("a"))

	c.Set("a", 1)
	assert.True(t, c.Has("a"))
	assert.Equal(t, 1, c.Get("a", -1))

	assert.Equal(t, 1, c.Pop("a", -1))
	assert.Equal(t, -1, c.Pop("a", -1))
	assert.False(t, c.Has("a"))
	assert.Equal(t, 0, c.Len())
}

func TestNoTTLNeverEvicts(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New[string, int](WithClock(clock.Now))
	c.Set("a", 1)

	clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, c.Sweep())
	assert.True(t, c.Has("a"))
}

func TestTTLEvictionBound(t *testing.T) {
	for _, start := range []int64{0, 1, 1700000000, 1700000017} {
		clock := &fakeClock{now: time.Unix(start, 0)}
		c := New[string, string](WithTTL(30*time.Second), WithClock(clock.Now))
		c.Set("k", "v")

		clock.Advance(29 * time.Second)
		c.Sweep()
		assert.True(t, c.Has("k"), "start=%d", start)

		clock.Advance(3 * time.Second)
		c.Sweep()
		assert.False(t, c.Has("k"), "start=%d", start)
		assert.Equal(t, 0, c.Len())
	}
}

func TestSetRefreshesInsertionTime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := New[string, int](WithTTL(10*time.Second), WithClock(clock.Now))
	c.Set("a", 1)
	clock.Advance(8 * time.Second)
	c.Set("a", 2)
	clock.Advance(8 * time.Second)

	assert.Equal(t, 0, c.Sweep())
	assert.Equal(t, 2, c.Get("a", 0))
}

func TestRunEvictsInBackground(t *testing.T) {
	c := New[string, int](WithTTL(20*time.Millisecond), WithSweepInterval(5*time.Millisecond))
	go c.Run(t.Context())

	c.Set("a", 1)
	require.Eventually(t, func() bool { return !c.Has("a") }, time.Second, 5*time.Millisecond)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int](WithTTL(time.Millisecond), WithSweepInterval(time.Millisecond))
	go c.Run(t.Context())

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				key := w*1000 + i
				c.Set(key, i)
				_ = c.Has(key)
				_ = c.Get(key, 0)
				if i%3 == 0 {
					c.Pop(key, 0)
				}
			}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, len(c.values), len(c.times))
	for k := range c.values {
		_, ok := c.times[k]
		assert.True(t, ok)
	}
}

type tickerList struct {
	Tickers []string `msgpack:"tickers"`
	Venue   string   `msgpack:"venue"`
}

func (l tickerList) Normalize() any {
	out := make([]string, len(l.Tickers))
	for i, t := range l.Tickers {
		out[i] = strings.ToLower(t)
	}
	sort.Strings(out)
	return tickerList{Tickers: out, Venue: strings.ToLower(l.Venue)}
}

func TestFingerprint(t *testing.T) {
	a, err := Of(schema.ServiceQuote, tickerList{Tickers: []string{"BTC", "eth"}, Venue: "Binance"})
	require.NoError(t, err)
	b, err := Of(schema.ServiceQuote, tickerList{Tickers: []string{"ETH", "btc"}, Venue: "binance"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Of(schema.ServiceCandle, tickerList{Tickers: []string{"ETH", "btc"}, Venue: "binance"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	m1, err := Of(schema.ServiceDetail, map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	m2, err := Of(schema.ServiceDetail, map[string]any{"b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

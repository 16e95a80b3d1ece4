package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the request
// fabric. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests        uint64
	staleDrops      uint64
	handlerFailures uint64
	decodeFailures  uint64
	unknownServices uint64
	cacheHits       uint64
	cacheMisses     uint64

	relayed uint64
	queued  uint64
	dropped uint64

	calls    uint64
	retries  uint64
	timeouts uint64

	skippedRows uint64

	handlerLatency LatencyStats
	callLatency    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Requests        uint64
	StaleDrops      uint64
	HandlerFailures uint64
	DecodeFailures  uint64
	UnknownServices uint64
	CacheHits       uint64
	CacheMisses     uint64

	Relayed uint64
	Queued  uint64
	Dropped uint64

	Calls    uint64
	Retries  uint64
	Timeouts uint64

	SkippedRows uint64

	HandlerLatency LatencySnapshot
	CallLatency    LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) inc(counter *uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(counter, 1)
}

// ObserveRequest counts one handled request and its handler latency.
func (m *Metrics) ObserveRequest(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.requests, 1)
	m.handlerLatency.Observe(d)
}

// IncStaleDrop records a request discarded for age.
func (m *Metrics) IncStaleDrop() {
	if m == nil {
		return
	}
	m.inc(&m.staleDrops)
}

// IncHandlerFailure records a handler error or panic.
func (m *Metrics) IncHandlerFailure() {
	if m == nil {
		return
	}
	m.inc(&m.handlerFailures)
}

// IncDecodeFailure records an undecodable envelope.
func (m *Metrics) IncDecodeFailure() {
	if m == nil {
		return
	}
	m.inc(&m.decodeFailures)
}

// IncUnknownService records a request for a service with no handler.
func (m *Metrics) IncUnknownService() {
	if m == nil {
		return
	}
	m.inc(&m.unknownServices)
}

// ObserveCache records a cache lookup outcome.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.inc(&m.cacheHits)
		return
	}
	m.inc(&m.cacheMisses)
}

// IncRelayed records a frame relayed by the broker.
func (m *Metrics) IncRelayed() {
	if m == nil {
		return
	}
	m.inc(&m.relayed)
}

// IncQueued records a request parked while every worker was busy.
func (m *Metrics) IncQueued() {
	if m == nil {
		return
	}
	m.inc(&m.queued)
}

// IncDropped records a request discarded by the broker.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.inc(&m.dropped)
}

// IncSkippedRow records a change feed row that could not be decoded.
func (m *Metrics) IncSkippedRow() {
	m.inc(&m.skippedRows)
}

// ObserveCall records one gateway call, its attempt count and outcome.
func (m *Metrics) ObserveCall(d time.Duration, attempts int, timedOut bool) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.calls, 1)
	if attempts > 1 {
		atomic.AddUint64(&m.retries, uint64(attempts-1))
	}
	if timedOut {
		atomic.AddUint64(&m.timeouts, 1)
	}
	m.callLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Requests:        atomic.LoadUint64(&m.requests),
		StaleDrops:      atomic.LoadUint64(&m.staleDrops),
		HandlerFailures: atomic.LoadUint64(&m.handlerFailures),
		DecodeFailures:  atomic.LoadUint64(&m.decodeFailures),
		UnknownServices: atomic.LoadUint64(&m.unknownServices),
		CacheHits:       atomic.LoadUint64(&m.cacheHits),
		CacheMisses:     atomic.LoadUint64(&m.cacheMisses),
		Relayed:         atomic.LoadUint64(&m.relayed),
		Queued:          atomic.LoadUint64(&m.queued),
		Dropped:         atomic.LoadUint64(&m.dropped),
		Calls:           atomic.LoadUint64(&m.calls),
		Retries:         atomic.LoadUint64(&m.retries),
		Timeouts:        atomic.LoadUint64(&m.timeouts),
		SkippedRows:     atomic.LoadUint64(&m.skippedRows),
		HandlerLatency:  m.handlerLatency.Snapshot(),
		CallLatency:     m.callLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}

package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest(time.Millisecond)
	m.IncStaleDrop()
	m.ObserveCache(true)
	m.ObserveCall(time.Second, 3, true)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest(2 * time.Millisecond)
	m.ObserveRequest(4 * time.Millisecond)
	m.IncStaleDrop()
	m.IncHandlerFailure()
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)
	m.IncRelayed()
	m.IncQueued()
	m.ObserveCall(3*time.Second, 3, true)
	m.IncSkippedRow()

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Requests)
	assert.Equal(t, uint64(1), s.StaleDrops)
	assert.Equal(t, uint64(1), s.HandlerFailures)
	assert.Equal(t, uint64(1), s.CacheHits)
	assert.Equal(t, uint64(2), s.CacheMisses)
	assert.Equal(t, uint64(1), s.Relayed)
	assert.Equal(t, uint64(1), s.Queued)
	assert.Equal(t, uint64(1), s.Calls)
	assert.Equal(t, uint64(2), s.Retries)
	assert.Equal(t, uint64(1), s.Timeouts)
	assert.Equal(t, uint64(1), s.SkippedRows)

	require.Equal(t, uint64(2), s.HandlerLatency.Count)
	assert.Equal(t, 2*time.Millisecond, s.HandlerLatency.Min)
	assert.Equal(t, 4*time.Millisecond, s.HandlerLatency.Max)
	assert.Equal(t, 3*time.Millisecond, s.HandlerLatency.Avg)

	assert.Contains(t, Format("marketd", s), "marketd: requests=2 stale=1")
	assert.Contains(t, Format("databased", s), "skipped_rows=1")
}

func TestStartProfilerDisabled(t *testing.T) {
	stop, err := StartProfiler(ProfilerConfig{ApplicationName: "alpha.test"})
	require.NoError(t, err)
	require.NotNil(t, stop)
	stop()
}

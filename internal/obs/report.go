package obs

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/logs"
)

const defaultReportInterval = 30 * time.Second

// Report logs a metrics summary every interval until ctx is done.
func Report(ctx context.Context, name string, m *Metrics, interval time.Duration) {
	if m == nil {
		return
	}
	if interval <= 0 {
		interval = defaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logs.Info(Format(name, m.Snapshot()))
		}
	}
}

// Format renders a snapshot as a single log line.
func Format(name string, s Snapshot) string {
	return fmt.Sprintf(
		"%s: requests=%d stale=%d handler_failures=%d decode_failures=%d unknown=%d "+
			"cache_hit=%d cache_miss=%d relayed=%d queued=%d dropped=%d "+
			"calls=%d retries=%d timeouts=%d skipped_rows=%d handler_avg=%s handler_max=%s call_avg=%s",
		name, s.Requests, s.StaleDrops, s.HandlerFailures, s.DecodeFailures, s.UnknownServices,
		s.CacheHits, s.CacheMisses, s.Relayed, s.Queued, s.Dropped,
		s.Calls, s.Retries, s.Timeouts, s.SkippedRows, s.HandlerLatency.Avg, s.HandlerLatency.Max, s.CallLatency.Avg,
	)
}

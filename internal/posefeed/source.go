package posefeed

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/tracking"
)

// Stats counts reports seen by a transport.
type Stats struct {
	Received atomic.Uint64
	Decoded  atomic.Uint64
	Rejected atomic.Uint64
}

// LogStats writes a one-line summary to the diagnostics stream.
func (s *Stats) LogStats(name string) {
	monitoring.Diagf("posefeed[%s]: received=%d decoded=%d rejected=%d",
		name, s.Received.Load(), s.Decoded.Load(), s.Rejected.Load())
}

// deliver decodes payload and sends the observation to out. It returns
// false only when ctx is done.
func deliver(ctx context.Context, dec Decoder, stats *Stats, payload []byte, fallbackStamp time.Time, out chan<- tracking.Observation) bool {
	stats.Received.Add(1)
	obs, err := dec.Decode(payload)
	if err != nil {
		stats.Rejected.Add(1)
		monitoring.Tracef("posefeed: %v", err)
		return true
	}
	stats.Decoded.Add(1)
	if obs.Stamp.IsZero() {
		obs.Stamp = fallbackStamp
	}
	select {
	case out <- obs:
		return true
	case <-ctx.Done():
		return false
	}
}

// logStatsEvery logs stats on interval until ctx is done.
func logStatsEvery(ctx context.Context, name string, stats *Stats, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats.LogStats(name)
		}
	}
}

package posefeed

import (
	"context"
	"time"

	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/serialmux"
	"github.com/banshee-data/pickplace/internal/tracking"
)

// SerialSource reads pose reports from the vision board's serial line.
type SerialSource struct {
	Mux         serialmux.SerialMuxInterface
	Decoder     Decoder
	LogInterval time.Duration

	Stats Stats
}

// Run subscribes to the mux and forwards decoded reports to out until ctx is
// done or the mux closes the subscription.
func (s *SerialSource) Run(ctx context.Context, out chan<- tracking.Observation) error {
	id, lines := s.Mux.Subscribe()
	defer s.Mux.Unsubscribe(id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go logStatsEvery(ctx, "serial", &s.Stats, s.LogInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			delivered := true
			err := serialmux.HandleEvent(func(payload string) error {
				delivered = deliver(ctx, s.Decoder, &s.Stats, []byte(payload), time.Now(), out)
				return nil
			}, line)
			if err != nil {
				monitoring.Tracef("posefeed: serial line: %v", err)
			}
			if !delivered {
				return ctx.Err()
			}
		}
	}
}

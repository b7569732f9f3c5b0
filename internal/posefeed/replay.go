package posefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/timeutil"
	"github.com/banshee-data/pickplace/internal/tracking"
)

// ReplayOptions configures ReplayPCAP.
type ReplayOptions struct {
	// Port keeps only UDP datagrams sent to this port. Zero keeps all.
	Port    uint16
	Decoder Decoder
	// Realtime paces delivery by the capture timestamps.
	Realtime bool
	Clock    timeutil.Clock
}

// ReplayPCAP reads a classic pcap stream of captured pose datagrams and
// forwards each decoded report to out. Reports without a stamp take the
// capture timestamp. It returns the number of observations delivered.
func ReplayPCAP(ctx context.Context, r io.Reader, opts ReplayOptions, out chan<- tracking.Observation) (int, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture: %w", err)
	}

	var stats Stats
	var first, started time.Time
	packets := 0
	for {
		if ctx.Err() != nil {
			return int(stats.Decoded.Load()), ctx.Err()
		}
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return int(stats.Decoded.Load()), fmt.Errorf("reading packet %d: %w", packets+1, err)
		}
		packets++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.Port != 0 && uint16(udp.DstPort) != opts.Port {
			continue
		}

		if opts.Realtime {
			if first.IsZero() {
				first, started = ci.Timestamp, opts.Clock.Now()
			}
			wait := ci.Timestamp.Sub(first) - opts.Clock.Since(started)
			if err := timeutil.Sleep(ctx, opts.Clock, wait); err != nil {
				return int(stats.Decoded.Load()), err
			}
		}

		if !deliver(ctx, opts.Decoder, &stats, udp.Payload, ci.Timestamp, out) {
			return int(stats.Decoded.Load()), ctx.Err()
		}
	}

	monitoring.Logf("posefeed: replay complete: %d packets, %d reports, %d rejected",
		packets, stats.Decoded.Load(), stats.Rejected.Load())
	return int(stats.Decoded.Load()), nil
}

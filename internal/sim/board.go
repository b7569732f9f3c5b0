package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/posefeed"
	"github.com/banshee-data/pickplace/internal/timeutil"
)

// Workspace is the table region objects are spawned in, in the base frame.
type Workspace struct {
	MinX, MaxX float64
	MinY, MaxY float64
	TableZ     float64
}

// DefaultWorkspace is a patch of table in front of the arm.
var DefaultWorkspace = Workspace{MinX: 0.3, MaxX: 0.5, MinY: -0.2, MaxY: 0.2, TableZ: 0.05}

// BoardOptions configures a VisionBoard.
type BoardOptions struct {
	// Frame names the camera frame in reports.
	Frame string
	// Noise is the standard deviation of position noise in metres.
	Noise     float64
	Workspace Workspace
	Clock     timeutil.Clock
	Seed      uint64
}

// VisionBoard simulates the camera board: it reports the object's position
// in the camera frame and answers configuration commands with status lines.
type VisionBoard struct {
	mount geom.Transform
	opts  BoardOptions

	mu        sync.Mutex
	rng       *rand.Rand
	object    r3.Vec
	angle     float64
	visible   bool
	streaming bool
	replies   [][]byte
	partial   bytes.Buffer
}

// NewVisionBoard returns a board whose camera sits at mount (camera→base).
// The object starts hidden.
func NewVisionBoard(mount geom.Transform, opts BoardOptions) *VisionBoard {
	if opts.Frame == "" {
		opts.Frame = posefeed.DefaultCameraFrame
	}
	if opts.Workspace == (Workspace{}) {
		opts.Workspace = DefaultWorkspace
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &VisionBoard{
		mount:     mount,
		opts:      opts,
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		streaming: true,
	}
}

// PlaceObject puts the object at pos (base frame) with planar angle.
func (b *VisionBoard) PlaceObject(pos r3.Vec, angle float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.object, b.angle, b.visible = pos, angle, true
}

// Respawn places the object at a random spot in the workspace.
func (b *VisionBoard) Respawn() r3.Vec {
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := b.opts.Workspace
	b.object = r3.Vec{
		X: ws.MinX + b.rng.Float64()*(ws.MaxX-ws.MinX),
		Y: ws.MinY + b.rng.Float64()*(ws.MaxY-ws.MinY),
		Z: ws.TableZ,
	}
	b.angle = b.rng.Float64() * 1.57
	b.visible = true
	monitoring.Diagf("sim: object respawned at (%.3f, %.3f)", b.object.X, b.object.Y)
	return b.object
}

// Hide takes the object out of view.
func (b *VisionBoard) Hide() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible = false
}

// Write receives newline-terminated commands.
func (b *VisionBoard) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial.Write(p)
	for {
		line, err := b.partial.ReadString('\n')
		if err != nil {
			// keep the incomplete command for the next write
			rest := line
			b.partial.Reset()
			b.partial.WriteString(rest)
			break
		}
		b.handleCommandLocked(strings.TrimSpace(line))
	}
	return len(p), nil
}

func (b *VisionBoard) handleCommandLocked(cmd string) {
	if cmd == "" {
		return
	}
	status := "ok"
	fields := strings.Fields(cmd)
	switch strings.ToUpper(fields[0]) {
	case "STREAM":
		b.streaming = len(fields) > 1 && strings.EqualFold(fields[1], "ON")
	case "TIME", "FORMAT", "REPORT", "PING":
	default:
		status = "error"
	}
	reply, _ := json.Marshal(map[string]any{"status": status, "command": cmd, "streaming": b.streaming})
	b.replies = append(b.replies, reply)
}

// NextLine returns the next line the board emits: queued command replies
// first, then a pose report while streaming and the object is visible.
func (b *VisionBoard) NextLine() []byte {
	b.mu.Lock()
	if len(b.replies) > 0 {
		r := b.replies[0]
		b.replies = b.replies[1:]
		b.mu.Unlock()
		return r
	}
	b.mu.Unlock()

	if line, ok := b.Report(); ok {
		return line
	}
	return nil
}

// Report encodes the current object observation, if the board would emit
// one.
func (b *VisionBoard) Report() ([]byte, bool) {
	b.mu.Lock()
	if !b.streaming || !b.visible {
		b.mu.Unlock()
		return nil, false
	}
	pos := b.object
	if b.opts.Noise > 0 {
		pos = r3.Add(pos, r3.Vec{
			X: b.rng.NormFloat64() * b.opts.Noise,
			Y: b.rng.NormFloat64() * b.opts.Noise,
		})
	}
	angle := b.angle
	b.mu.Unlock()

	inCamera := b.mount.Inverse().ApplyPoint(pos)
	line, err := posefeed.Encode(b.opts.Frame, b.opts.Clock.Now(), inCamera, angle)
	if err != nil {
		monitoring.Opsf("sim: encoding report: %v", err)
		return nil, false
	}
	return line, true
}

// ServeUDP sends a report datagram to addr every interval until ctx is done.
func (b *VisionBoard) ServeUDP(ctx context.Context, addr string, interval time.Duration) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("sim board: dial %s: %w", addr, err)
	}
	defer conn.Close()

	ticker := b.opts.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
		line, ok := b.Report()
		if !ok {
			continue
		}
		if _, err := conn.Write(line); err != nil {
			monitoring.Tracef("sim board: send: %v", err)
		}
	}
}

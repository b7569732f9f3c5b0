// Package tracking keeps the latest base-frame pose of the target object.
//
// Observations arrive asynchronously from the vision feed in the camera
// frame. Each one is transformed into the robot base frame; on success the
// stored pose, planar orientation and timestamp are replaced together, on
// failure the observation is dropped and the last good value is kept.
// Readers take value snapshots and never block on ingestion.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/pickplace/internal/frames"
	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/timeutil"
)

// Defaults for Config fields left zero.
const (
	DefaultTargetFrame   = "base_link"
	DefaultLookupTimeout = time.Second
	DefaultHistorySize   = 512
)

// Observation is one pose report from the vision feed.
type Observation struct {
	Pose geom.Pose
	// Frame is the frame Pose is expressed in.
	Frame string
	// Orientation is the planar orientation scalar reported alongside the
	// pose, passed through untransformed.
	Orientation float64
	Stamp       time.Time
}

// Sample is an accepted observation expressed in the target frame.
type Sample struct {
	Pose        geom.Pose
	Orientation float64
	SourceFrame string
	Stamp       time.Time
	ReceivedAt  time.Time
}

// TrackedObject is a value snapshot of the tracker state.
type TrackedObject struct {
	Pose        geom.Pose
	Orientation float64
	// Fresh is false until the first observation has been accepted.
	Fresh     bool
	UpdatedAt time.Time
	Accepted  uint64
	Dropped   uint64
}

// Age reports how long ago the snapshot was last updated. A snapshot that
// was never updated has an unbounded age.
func (o TrackedObject) Age(now time.Time) time.Duration {
	if !o.Fresh {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(o.UpdatedAt)
}

// Transformer converts poses between frames.
type Transformer interface {
	Transform(ctx context.Context, pose geom.Pose, source, target string, timeout time.Duration) (geom.Pose, error)
}

// Recorder persists accepted samples. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordTrackedPose(ctx context.Context, s Sample) error
}

// Config configures a Tracker.
type Config struct {
	TargetFrame   string
	LookupTimeout time.Duration
	HistorySize   int
	Clock         timeutil.Clock
	Recorder      Recorder
}

// Tracker holds the latest tracked object pose.
type Tracker struct {
	tf  Transformer
	cfg Config

	mu      sync.RWMutex
	current TrackedObject
	history []Sample
	next    int
	full    bool
}

// NewTracker returns a tracker that transforms observations with tf.
func NewTracker(tf Transformer, cfg Config) *Tracker {
	if cfg.TargetFrame == "" {
		cfg.TargetFrame = DefaultTargetFrame
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Tracker{
		tf:      tf,
		cfg:     cfg,
		history: make([]Sample, cfg.HistorySize),
	}
}

// OnObservation ingests one observation. Transform failures are returned to
// the caller and counted; they never reach readers of the tracker.
func (t *Tracker) OnObservation(ctx context.Context, obs Observation) error {
	pose, err := t.tf.Transform(ctx, obs.Pose, obs.Frame, t.cfg.TargetFrame, t.cfg.LookupTimeout)
	if err != nil {
		t.mu.Lock()
		t.current.Dropped++
		t.mu.Unlock()
		if errors.Is(err, frames.ErrTransformUnavailable) {
			monitoring.Diagf("tracking: dropped observation from %s: %v", obs.Frame, err)
		}
		return fmt.Errorf("observation from %s: %w", obs.Frame, err)
	}

	now := t.cfg.Clock.Now()
	s := Sample{
		Pose:        pose,
		Orientation: obs.Orientation,
		SourceFrame: obs.Frame,
		Stamp:       obs.Stamp,
		ReceivedAt:  now,
	}

	t.mu.Lock()
	t.current.Pose = pose
	t.current.Orientation = obs.Orientation
	t.current.UpdatedAt = now
	t.current.Fresh = true
	t.current.Accepted++
	t.history[t.next] = s
	t.next = (t.next + 1) % len(t.history)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()

	monitoring.Tracef("tracking: %s orientation=%.3f", pose, obs.Orientation)

	if t.cfg.Recorder != nil {
		if err := t.cfg.Recorder.RecordTrackedPose(ctx, s); err != nil {
			monitoring.Opsf("tracking: failed to record pose: %v", err)
		}
	}
	return nil
}

// Run ingests observations from ch until ctx is cancelled or ch is closed.
func (t *Tracker) Run(ctx context.Context, ch <-chan Observation) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs, ok := <-ch:
			if !ok {
				return nil
			}
			// Failures are already counted and logged.
			_ = t.OnObservation(ctx, obs)
		}
	}
}

// CurrentPose returns the latest pose and whether any observation has been
// accepted yet.
func (t *Tracker) CurrentPose() (geom.Pose, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current.Pose, t.current.Fresh
}

// CurrentOrientation returns the latest planar orientation scalar.
func (t *Tracker) CurrentOrientation() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current.Orientation, t.current.Fresh
}

// Snapshot returns a copy of the tracker state.
func (t *Tracker) Snapshot() TrackedObject {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// History returns accepted samples, oldest first.
func (t *Tracker) History() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.full {
		return append([]Sample(nil), t.history[:t.next]...)
	}
	out := make([]Sample, 0, len(t.history))
	out = append(out, t.history[t.next:]...)
	return append(out, t.history[:t.next]...)
}

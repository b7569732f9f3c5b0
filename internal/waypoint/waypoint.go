// Package waypoint builds end-effector waypoint lists for Cartesian moves.
//
// Every builder keeps the starting orientation on all produced poses; only
// positions vary along a path.
package waypoint

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/motion"
)

// ErrTooFewSegments is returned when an interpolation is asked for fewer
// than two segments.
var ErrTooFewSegments = errors.New("interpolation needs at least two segments")

// Scripted approach leg lengths in metres at scale 1.
const (
	approachDescend = 0.1
	approachSide    = 0.2
	approachForward = 0.1
)

// StraightLine returns the single waypoint that moves from to to's position
// while holding from's orientation.
func StraightLine(from, to geom.Pose) []geom.Pose {
	return []geom.Pose{from.WithPosition(to.Position)}
}

// MultiPointInterpolate splits the segment from→to into n equal parts and
// returns the n-1 interior points at fractions i/n. Both endpoints are
// excluded.
func MultiPointInterpolate(from, to geom.Pose, n int) ([]geom.Pose, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewSegments, n)
	}
	out := make([]geom.Pose, 0, n-1)
	for i := 1; i < n; i++ {
		f := float64(i) / float64(n)
		pos := r3.Add(r3.Scale(1-f, from.Position), r3.Scale(f, to.Position))
		out = append(out, from.WithPosition(pos))
	}
	return out, nil
}

// ScriptedApproach returns three cumulative legs from current: down in z,
// across in +y, then forward in +x, each scaled by scale.
func ScriptedApproach(current geom.Pose, scale float64) []geom.Pose {
	down := current.Translate(r3.Vec{Z: -approachDescend * scale})
	side := down.Translate(r3.Vec{Y: approachSide * scale})
	forward := side.Translate(r3.Vec{X: approachForward * scale})
	return []geom.Pose{down, side, forward}
}

// Config holds Cartesian path parameters.
type Config struct {
	EEFStep       float64
	JumpThreshold float64
}

// DefaultConfig interpolates at 1 cm with the joint-space jump check off.
func DefaultConfig() Config {
	return Config{EEFStep: motion.DefaultEEFStep, JumpThreshold: motion.DefaultJumpThreshold}
}

// Goal wraps waypoints into a Cartesian goal.
func Goal(waypoints []geom.Pose, cfg Config) motion.CartesianGoal {
	if cfg.EEFStep <= 0 {
		cfg.EEFStep = motion.DefaultEEFStep
	}
	return motion.CartesianGoal{
		Waypoints:     append([]geom.Pose(nil), waypoints...),
		EEFStep:       cfg.EEFStep,
		JumpThreshold: cfg.JumpThreshold,
	}
}

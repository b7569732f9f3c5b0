// Package frames resolves poses between named reference frames.
//
// The Transformer is the only entry point the tracker uses: it waits for a
// frame relationship to become available, bounded by a lookup timeout, and
// reports ErrTransformUnavailable otherwise. It never retries on its own.
package frames

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/pickplace/internal/geom"
)

// ErrTransformUnavailable is returned when a frame relationship could not be
// resolved within the lookup timeout.
var ErrTransformUnavailable = errors.New("transform unavailable")

// Service is the frame-transform service contract.
type Service interface {
	// CanTransform blocks until source→target can be resolved or timeout
	// elapses, and reports whether it can.
	CanTransform(ctx context.Context, source, target string, timeout time.Duration) bool

	// Transform re-expresses pose, given in source, in the target frame.
	Transform(pose geom.Pose, source, target string) (geom.Pose, error)
}

// Transformer converts poses from a sensor frame into a robot frame.
type Transformer struct {
	svc Service
}

// NewTransformer wraps a frame-transform service.
func NewTransformer(svc Service) *Transformer {
	return &Transformer{svc: svc}
}

// Transform converts pose from source to target, waiting at most
// lookupTimeout for the relationship to become available.
func (t *Transformer) Transform(ctx context.Context, pose geom.Pose, source, target string, lookupTimeout time.Duration) (geom.Pose, error) {
	if source == target {
		return pose, nil
	}
	if !t.svc.CanTransform(ctx, source, target, lookupTimeout) {
		if err := ctx.Err(); err != nil {
			return geom.Pose{}, fmt.Errorf("%w: %s -> %s: %v", ErrTransformUnavailable, source, target, err)
		}
		return geom.Pose{}, fmt.Errorf("%w: %s -> %s not available after %v", ErrTransformUnavailable, source, target, lookupTimeout)
	}
	out, err := t.svc.Transform(pose, source, target)
	if err != nil {
		return geom.Pose{}, fmt.Errorf("%w: %s -> %s: %v", ErrTransformUnavailable, source, target, err)
	}
	return out, nil
}

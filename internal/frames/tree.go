package frames

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/timeutil"
)

var (
	errUnknownFrame = errors.New("unknown frame")
	errNotConnected = errors.New("frames are not connected")
	errFrameCycle   = errors.New("transform would create a cycle")
)

type edge struct {
	parent string
	// childToParent maps child coordinates into the parent frame.
	childToParent geom.Transform
}

// Tree is an in-memory frame-transform service holding a forest of frames
// linked by rigid child→parent transforms. Edges may be published at any
// time; CanTransform polls until a path appears.
type Tree struct {
	mu    sync.RWMutex
	edges map[string]edge
	roots map[string]struct{}

	clock        timeutil.Clock
	pollInterval time.Duration
}

// NewTree returns an empty tree. A nil clock uses the real clock.
func NewTree(clock timeutil.Clock) *Tree {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tree{
		edges:        make(map[string]edge),
		roots:        make(map[string]struct{}),
		clock:        clock,
		pollInterval: 50 * time.Millisecond,
	}
}

// SetTransform publishes (or replaces) the transform placing child in parent.
func (t *Tree) SetTransform(parent, child string, childToParent geom.Transform) error {
	if parent == "" || child == "" || parent == child {
		return fmt.Errorf("invalid frame pair %q -> %q", child, parent)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for f := parent; ; {
		if f == child {
			return fmt.Errorf("%w: %s is an ancestor of %s", errFrameCycle, child, parent)
		}
		e, ok := t.edges[f]
		if !ok {
			break
		}
		f = e.parent
	}

	t.edges[child] = edge{parent: parent, childToParent: childToParent}
	delete(t.roots, child)
	if _, ok := t.edges[parent]; !ok {
		t.roots[parent] = struct{}{}
	}
	return nil
}

// SetTransformMatrix publishes a transform given as a 4×4 row-major matrix,
// as produced by extrinsic calibration tools.
func (t *Tree) SetTransformMatrix(parent, child string, m [16]float64) error {
	tf, err := geom.TransformFromMatrix(m)
	if err != nil {
		return fmt.Errorf("frame %s -> %s: %w", child, parent, err)
	}
	return t.SetTransform(parent, child, tf)
}

// Frames lists every known frame name, sorted.
func (t *Tree) Frames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.edges)+len(t.roots))
	for name := range t.edges {
		names = append(names, name)
	}
	for name := range t.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanTransform implements Service.
func (t *Tree) CanTransform(ctx context.Context, source, target string, timeout time.Duration) bool {
	err := timeutil.Poll(ctx, t.clock, timeutil.PollOptions{Interval: t.pollInterval, Timeout: timeout},
		func(context.Context) (bool, error) {
			_, err := t.lookup(source, target)
			return err == nil, err
		})
	return err == nil
}

// Transform implements Service.
func (t *Tree) Transform(pose geom.Pose, source, target string) (geom.Pose, error) {
	tf, err := t.lookup(source, target)
	if err != nil {
		return geom.Pose{}, err
	}
	return tf.Apply(pose), nil
}

// lookup returns the transform mapping source coordinates into target.
func (t *Tree) lookup(source, target string) (geom.Transform, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known(source) {
		return geom.Transform{}, fmt.Errorf("%w: %s", errUnknownFrame, source)
	}
	if !t.known(target) {
		return geom.Transform{}, fmt.Errorf("%w: %s", errUnknownFrame, target)
	}

	// Accumulate source→ancestor transforms for every ancestor of source.
	fromSource := map[string]geom.Transform{source: geom.IdentityTransform()}
	acc := geom.IdentityTransform()
	for f := source; ; {
		e, ok := t.edges[f]
		if !ok {
			break
		}
		acc = e.childToParent.Compose(acc)
		f = e.parent
		fromSource[f] = acc
	}

	acc = geom.IdentityTransform()
	for f := target; ; {
		if s, ok := fromSource[f]; ok {
			// acc maps target→f; invert it to go f→target.
			return acc.Inverse().Compose(s), nil
		}
		e, ok := t.edges[f]
		if !ok {
			return geom.Transform{}, fmt.Errorf("%w: %s and %s", errNotConnected, source, target)
		}
		acc = e.childToParent.Compose(acc)
		f = e.parent
	}
}

func (t *Tree) known(frame string) bool {
	if _, ok := t.edges[frame]; ok {
		return true
	}
	_, ok := t.roots[frame]
	return ok
}

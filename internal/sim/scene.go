// Package sim provides in-process stand-ins for the arm, the collision
// scene service and the vision board, for development without hardware and
// for tests. Moves arrive instantly at the commanded goal; there is no
// kinematics or physics.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/scene"
	"github.com/banshee-data/pickplace/internal/timeutil"
)

type sceneEntry struct {
	frame    string
	pose     geom.Pose
	size     scene.Box
	attached bool
	link     string
}

type pending struct {
	at    time.Time
	apply func()
}

// Scene is an eventually consistent collision world. Each mutation becomes
// visible Lag after it was requested. An object moves between the known and
// attached sets in one step, so no name is ever listed in both.
type Scene struct {
	clock timeutil.Clock
	lag   time.Duration

	mu       sync.Mutex
	objects  map[string]*sceneEntry
	queue    []pending
	frozen   bool
	onRemove func(name string)
	removed  []string
	requests int
}

// NewScene returns an empty scene with the given propagation lag.
func NewScene(clock timeutil.Clock, lag time.Duration) *Scene {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scene{clock: clock, lag: lag, objects: make(map[string]*sceneEntry)}
}

// Freeze stops (or resumes) applying queued mutations. Mutations already
// due when the scene freezes still take effect.
func (s *Scene) Freeze(frozen bool) {
	s.mu.Lock()
	if frozen {
		s.settleLocked()
	}
	s.frozen = frozen
	s.unlockAndNotify()
}

// OnRemove registers fn to run, without the scene lock held, whenever a
// removal takes effect.
func (s *Scene) OnRemove(fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemove = fn
}

// Requests returns how many mutations have been requested.
func (s *Scene) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Scene) enqueue(apply func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.queue = append(s.queue, pending{at: s.clock.Now().Add(s.lag), apply: apply})
}

// unlockAndNotify releases the lock, then runs the removal callback for
// every removal settled while it was held.
func (s *Scene) unlockAndNotify() {
	removed, fn := s.removed, s.onRemove
	s.removed = nil
	s.mu.Unlock()
	if fn == nil {
		return
	}
	for _, name := range removed {
		fn(name)
	}
}

// settleLocked applies every mutation that is due.
func (s *Scene) settleLocked() {
	if s.frozen {
		return
	}
	now := s.clock.Now()
	rest := s.queue[:0]
	for _, p := range s.queue {
		if now.Before(p.at) {
			rest = append(rest, p)
			continue
		}
		p.apply()
	}
	s.queue = rest
}

func (s *Scene) AddBox(_ context.Context, name, frame string, pose geom.Pose, size scene.Box) error {
	s.enqueue(func() {
		s.objects[name] = &sceneEntry{frame: frame, pose: pose, size: size}
	})
	return nil
}

func (s *Scene) Attach(_ context.Context, name, link string, _ []string) error {
	s.mu.Lock()
	_, ok := s.objects[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sim scene: attach: no object %q", name)
	}
	s.enqueue(func() {
		if e, ok := s.objects[name]; ok {
			e.attached = true
			e.link = link
		}
	})
	return nil
}

func (s *Scene) Detach(_ context.Context, name, _ string) error {
	s.enqueue(func() {
		if e, ok := s.objects[name]; ok {
			e.attached = false
			e.link = ""
		}
	})
	return nil
}

func (s *Scene) Remove(_ context.Context, name string) error {
	s.enqueue(func() {
		if _, ok := s.objects[name]; !ok {
			return
		}
		delete(s.objects, name)
		s.removed = append(s.removed, name)
	})
	return nil
}

func (s *Scene) KnownNames(context.Context) ([]string, error) {
	return s.names(false), nil
}

func (s *Scene) AttachedNames(context.Context) ([]string, error) {
	return s.names(true), nil
}

func (s *Scene) names(attached bool) []string {
	s.mu.Lock()
	defer s.unlockAndNotify()
	s.settleLocked()
	var out []string
	for name, e := range s.objects {
		if e.attached == attached {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

var _ scene.Service = (*Scene)(nil)

// Package scene mirrors the collision world used for planning and confirms
// that every mutation has become observable before reporting success.
//
// The scene service is eventually consistent: a request to add, attach,
// detach or remove an object returns immediately and takes effect some time
// later. Each Sync operation issues its mutation once and then polls the
// service's known and attached name sets until the expected post-condition
// holds or the timeout elapses. Mutations are never resubmitted.
package scene

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/timeutil"
)

var (
	// ErrSyncTimeout is returned when a mutation was not observed before the
	// timeout elapsed.
	ErrSyncTimeout = errors.New("scene did not reflect mutation before timeout")

	// ErrPreconditionViolation is returned when an operation is requested on
	// an object in the wrong lifecycle state. The service is not contacted.
	ErrPreconditionViolation = errors.New("scene precondition violated")
)

// ObjectState is the lifecycle state of a collision object.
type ObjectState int

const (
	Unknown ObjectState = iota
	Known
	Attached
)

func (s ObjectState) String() string {
	switch s {
	case Known:
		return "known"
	case Attached:
		return "attached"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name for the JSON API.
func (s ObjectState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Box is an axis-aligned box size in metres.
type Box struct {
	X, Y, Z float64
}

// CollisionObject is a named box placed in the collision world.
type CollisionObject struct {
	Name  string
	Shape Box
	Pose  geom.Pose
	Frame string
	State ObjectState
	// Link is the robot link the object is attached to, if any.
	Link string
}

// BoundaryObject is a fixed obstacle such as a wall or base plate.
type BoundaryObject struct {
	Name  string
	Pose  geom.Pose
	Shape Box
}

// Service is the collision-world service contract.
type Service interface {
	AddBox(ctx context.Context, name, frame string, pose geom.Pose, size Box) error
	Attach(ctx context.Context, name, link string, touchLinks []string) error
	Detach(ctx context.Context, name, link string) error
	Remove(ctx context.Context, name string) error
	KnownNames(ctx context.Context) ([]string, error)
	AttachedNames(ctx context.Context) ([]string, error)
}

// Options configures a Sync.
type Options struct {
	// Frame is the planning frame objects are placed in.
	Frame        string
	PollInterval time.Duration
	Timeout      time.Duration
	Clock        timeutil.Clock
}

// Sync tracks the collision objects this controller created and performs
// confirmed mutations against the scene service.
type Sync struct {
	svc   Service
	frame string
	poll  timeutil.PollOptions
	clock timeutil.Clock

	mu      sync.Mutex
	objects map[string]*CollisionObject
}

// NewSync returns a Sync using svc. Zero options take the polling defaults
// (100 ms interval, 4 s timeout).
func NewSync(svc Service, opts Options) *Sync {
	if opts.Frame == "" {
		opts.Frame = "base_link"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = timeutil.DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = timeutil.DefaultPollTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Sync{
		svc:     svc,
		frame:   opts.Frame,
		poll:    timeutil.PollOptions{Interval: opts.PollInterval, Timeout: opts.Timeout},
		clock:   opts.Clock,
		objects: make(map[string]*CollisionObject),
	}
}

// State returns the registry state of name.
func (s *Sync) State(name string) ObjectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[name]; ok {
		return o.State
	}
	return Unknown
}

// Objects lists the registry, sorted by name.
func (s *Sync) Objects() []CollisionObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CollisionObject, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddFreeObject places a box in the world and waits until the service lists
// it as known and not attached.
func (s *Sync) AddFreeObject(ctx context.Context, name string, pose geom.Pose, shape Box) error {
	if st := s.State(name); st == Attached {
		return fmt.Errorf("%w: add %q: object is %s", ErrPreconditionViolation, name, st)
	}
	if !pose.Valid() {
		return fmt.Errorf("%w: add %q: invalid pose %s", ErrPreconditionViolation, name, pose)
	}

	s.upsert(CollisionObject{Name: name, Shape: shape, Pose: pose, Frame: s.frame})
	if err := s.svc.AddBox(ctx, name, s.frame, pose, shape); err != nil {
		s.dropUnconfirmed(name)
		return fmt.Errorf("add %q: %w", name, err)
	}
	return s.await(ctx, "add", []string{name}, true, false)
}

// AddBoundaryObjects places fixed obstacles and waits until all are known.
func (s *Sync) AddBoundaryObjects(ctx context.Context, objs []BoundaryObject) error {
	names := make([]string, 0, len(objs))
	for _, o := range objs {
		if st := s.State(o.Name); st == Attached {
			return fmt.Errorf("%w: add boundary %q: object is %s", ErrPreconditionViolation, o.Name, st)
		}
		if !o.Pose.Valid() {
			return fmt.Errorf("%w: add boundary %q: invalid pose %s", ErrPreconditionViolation, o.Name, o.Pose)
		}
		names = append(names, o.Name)
	}
	for i, o := range objs {
		s.upsert(CollisionObject{Name: o.Name, Shape: o.Shape, Pose: o.Pose, Frame: s.frame})
		if err := s.svc.AddBox(ctx, o.Name, s.frame, o.Pose, o.Shape); err != nil {
			s.dropUnconfirmed(names[:i+1]...)
			return fmt.Errorf("add boundary %q: %w", o.Name, err)
		}
	}
	if err := s.await(ctx, "add boundary", names, true, false); err != nil {
		s.dropUnconfirmed(names...)
		return err
	}
	return nil
}

// AttachObject binds a known object to link and waits until the service
// lists it as attached and no longer known.
func (s *Sync) AttachObject(ctx context.Context, name, link string, touchLinks []string) error {
	if st := s.State(name); st != Known {
		return fmt.Errorf("%w: attach %q: object is %s", ErrPreconditionViolation, name, st)
	}
	if err := s.svc.Attach(ctx, name, link, touchLinks); err != nil {
		return fmt.Errorf("attach %q: %w", name, err)
	}
	s.setLink(name, link)
	return s.await(ctx, "attach", []string{name}, false, true)
}

// DetachObject releases an attached object back into the world and waits
// until the service lists it as known and not attached.
func (s *Sync) DetachObject(ctx context.Context, name, link string) error {
	if st := s.State(name); st != Attached {
		return fmt.Errorf("%w: detach %q: object is %s", ErrPreconditionViolation, name, st)
	}
	if err := s.svc.Detach(ctx, name, link); err != nil {
		return fmt.Errorf("detach %q: %w", name, err)
	}
	return s.await(ctx, "detach", []string{name}, true, false)
}

// RemoveObject deletes a known object and waits until the service no longer
// lists it at all.
func (s *Sync) RemoveObject(ctx context.Context, name string) error {
	if st := s.State(name); st != Known {
		return fmt.Errorf("%w: remove %q: object is %s", ErrPreconditionViolation, name, st)
	}
	if err := s.svc.Remove(ctx, name); err != nil {
		return fmt.Errorf("remove %q: %w", name, err)
	}
	return s.await(ctx, "remove", []string{name}, false, false)
}

// Reconcile refreshes the registry from the service's name sets. Objects the
// service no longer lists are dropped; objects it lists that the registry
// does not know are added without shape information.
func (s *Sync) Reconcile(ctx context.Context) error {
	known, attached, err := s.names(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, o := range s.objects {
		switch {
		case slices.Contains(attached, name):
			o.State = Attached
		case slices.Contains(known, name):
			o.State = Known
			o.Link = ""
		default:
			delete(s.objects, name)
		}
	}
	for _, name := range known {
		if _, ok := s.objects[name]; !ok {
			s.objects[name] = &CollisionObject{Name: name, Frame: s.frame, State: Known}
		}
	}
	for _, name := range attached {
		if _, ok := s.objects[name]; !ok {
			s.objects[name] = &CollisionObject{Name: name, Frame: s.frame, State: Attached}
		}
	}
	return nil
}

// await polls until every name matches wantKnown and wantAttached. The
// registry is updated from the last observation whether or not the wait
// succeeds.
func (s *Sync) await(ctx context.Context, op string, names []string, wantKnown, wantAttached bool) error {
	start := s.clock.Now()
	var known, attached []string
	observed := false

	err := timeutil.Poll(ctx, s.clock, s.poll, func(ctx context.Context) (bool, error) {
		k, a, err := s.names(ctx)
		if err != nil {
			return false, err
		}
		known, attached, observed = k, a, true
		for _, name := range names {
			if slices.Contains(k, name) != wantKnown || slices.Contains(a, name) != wantAttached {
				return false, nil
			}
		}
		return true, nil
	})

	if observed {
		s.mu.Lock()
		for _, name := range names {
			s.applyObservedLocked(name, slices.Contains(known, name), slices.Contains(attached, name))
		}
		s.mu.Unlock()
	}

	switch {
	case err == nil:
		monitoring.Diagf("scene: %s %v confirmed after %v", op, names, s.clock.Since(start))
		return nil
	case errors.Is(err, timeutil.ErrPollTimeout):
		monitoring.Opsf("scene: %s %v not confirmed: %v", op, names, err)
		return fmt.Errorf("%w: %s %v: %v", ErrSyncTimeout, op, names, err)
	default:
		return fmt.Errorf("%s %v: %w", op, names, err)
	}
}

func (s *Sync) names(ctx context.Context) (known, attached []string, err error) {
	known, err = s.svc.KnownNames(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("known names: %w", err)
	}
	attached, err = s.svc.AttachedNames(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("attached names: %w", err)
	}
	return known, attached, nil
}

func (s *Sync) upsert(o CollisionObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.objects[o.Name]; ok {
		o.State = cur.State
		o.Link = cur.Link
	}
	s.objects[o.Name] = &o
}

// dropUnconfirmed forgets each named object the service never listed.
func (s *Sync) dropUnconfirmed(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if o, ok := s.objects[name]; ok && o.State == Unknown {
			delete(s.objects, name)
		}
	}
}

func (s *Sync) setLink(name, link string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[name]; ok {
		o.Link = link
	}
}

func (s *Sync) applyObservedLocked(name string, known, attached bool) {
	o, ok := s.objects[name]
	switch {
	case attached:
		if !ok {
			o = &CollisionObject{Name: name, Frame: s.frame}
			s.objects[name] = o
		}
		o.State = Attached
	case known:
		if !ok {
			o = &CollisionObject{Name: name, Frame: s.frame}
			s.objects[name] = o
		}
		o.State = Known
		o.Link = ""
	default:
		delete(s.objects, name)
	}
}

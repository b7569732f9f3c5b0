// Package pickplace sequences the pick-and-place cycle: observe the
// tracked object, approach it, attach its collision box, carry it to the
// place pose and release it. World-model changes are confirmed before the
// cycle moves on; motion failures are logged and journaled but, unless
// configured otherwise, do not stop the cycle.
package pickplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/motion"
	"github.com/banshee-data/pickplace/internal/scene"
	"github.com/banshee-data/pickplace/internal/timeutil"
	"github.com/banshee-data/pickplace/internal/tracking"
	"github.com/banshee-data/pickplace/internal/waypoint"
)

// Mover issues motion goals. *motion.Commander implements it.
type Mover interface {
	MoveToJoints(ctx context.Context, joints geom.JointConfiguration) error
	MoveToPose(ctx context.Context, pose geom.Pose) error
	MoveToConstrainedPose(ctx context.Context, pose geom.Pose, cons motion.Constraints) error
	PlanCartesian(ctx context.Context, goal motion.CartesianGoal) (motion.Plan, error)
	ExecutePlan(ctx context.Context, plan motion.Plan) error
	CurrentPose(ctx context.Context) (geom.Pose, error)
}

// World performs confirmed collision-world mutations. *scene.Sync
// implements it.
type World interface {
	AddFreeObject(ctx context.Context, name string, pose geom.Pose, shape scene.Box) error
	AddBoundaryObjects(ctx context.Context, objs []scene.BoundaryObject) error
	AttachObject(ctx context.Context, name, link string, touchLinks []string) error
	DetachObject(ctx context.Context, name, link string) error
	RemoveObject(ctx context.Context, name string) error
	Reconcile(ctx context.Context) error
	State(name string) scene.ObjectState
}

// PoseSource provides the tracked object. *tracking.Tracker implements it.
type PoseSource interface {
	Snapshot() tracking.TrackedObject
}

// Journal records state transitions.
type Journal interface {
	RecordTransition(ctx context.Context, t Transition) error
}

// Deps are the orchestrator's collaborators. Journal and Clock are
// optional.
type Deps struct {
	Mover   Mover
	World   World
	Poses   PoseSource
	Gate    Gate
	Journal Journal
	Clock   timeutil.Clock
}

// Orchestrator owns the cycle state. Step and Run must be called from a
// single goroutine; Snapshot is safe from any.
type Orchestrator struct {
	cfg     Config
	mover   Mover
	world   World
	poses   PoseSource
	gate    Gate
	journal Journal
	clock   timeutil.Clock

	mu      sync.RWMutex
	session Session
}

// New returns an orchestrator in the Idle state.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Mover == nil || deps.World == nil || deps.Poses == nil || deps.Gate == nil {
		return nil, errors.New("pickplace: mover, world, poses and gate are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pickplace: invalid config: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	now := deps.Clock.Now()
	return &Orchestrator{
		cfg:     cfg,
		mover:   deps.Mover,
		world:   deps.World,
		poses:   deps.Poses,
		gate:    deps.Gate,
		journal: deps.Journal,
		clock:   deps.Clock,
		session: Session{ID: uuid.NewString(), StartedAt: now, UpdatedAt: now, State: Idle},
	}, nil
}

// Snapshot returns a copy of the session.
func (o *Orchestrator) Snapshot() Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session.clone()
}

// Config returns the orchestrator's configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

func (o *Orchestrator) state() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session.State
}

func (o *Orchestrator) update(fn func(s *Session)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.session)
	o.session.UpdatedAt = o.clock.Now()
}

// fail notes a non-fatal error on the session.
func (o *Orchestrator) fail(what string, err error) {
	monitoring.Opsf("pickplace: %s: %v", what, err)
	o.update(func(s *Session) { s.LastError = fmt.Sprintf("%s: %v", what, err) })
}

func (o *Orchestrator) transition(ctx context.Context, to State, event string) {
	var t Transition
	o.update(func(s *Session) {
		t = Transition{
			SessionID: s.ID,
			Cycle:     s.Cycle,
			From:      s.State,
			To:        to,
			Event:     event,
			Fraction:  s.LastFraction,
			Err:       s.LastError,
			At:        o.clock.Now(),
		}
		if s.LastTarget != nil {
			p := *s.LastTarget
			t.Target = &p
		}
		s.State = to
	})
	monitoring.Diagf("pickplace: cycle %d %s -> %s (%s)", t.Cycle, t.From, t.To, event)
	if o.journal == nil {
		return
	}
	// journal writes must not be lost to a cancelled cycle
	if err := o.journal.RecordTransition(context.WithoutCancel(ctx), t); err != nil {
		monitoring.Opsf("pickplace: journal transition: %v", err)
	}
}

// Prepare clears any object left from an earlier run, moves to the zero
// configuration and adds the boundary environment. Only cancellation is
// returned as an error.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	if err := o.world.Reconcile(ctx); err != nil {
		o.fail("reconcile", err)
	}
	o.clearObject(ctx, o.cfg.ObjectName)
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.mover.MoveToJoints(ctx, o.cfg.ZeroJoints); err != nil {
		o.fail("zero move", err)
	}
	if len(o.cfg.Boundary) > 0 {
		if err := o.world.AddBoundaryObjects(ctx, o.cfg.Boundary); err != nil {
			o.fail("boundary objects", err)
		}
	}
	if o.cfg.ScriptedPathScale > 0 {
		if _, err := o.ScriptedPath(ctx, o.cfg.ScriptedPathScale); err != nil {
			o.fail("scripted path", err)
		}
	}
	return ctx.Err()
}

// ScriptedPath plans and executes the three-leg scripted path from the
// current pose.
func (o *Orchestrator) ScriptedPath(ctx context.Context, scale float64) (motion.Plan, error) {
	current, err := o.mover.CurrentPose(ctx)
	if err != nil {
		return motion.Plan{}, err
	}
	plan, err := o.mover.PlanCartesian(ctx, waypoint.Goal(waypoint.ScriptedApproach(current, scale), o.cfg.Waypoint))
	if err != nil {
		return motion.Plan{}, err
	}
	return plan, o.mover.ExecutePlan(ctx, plan)
}

// Run prepares the cell and steps the cycle until ctx is cancelled. It
// returns nil on cancellation and any other error that stops the cycle,
// such as closed operator input.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Prepare(ctx); err != nil {
		return ignoreCancel(ctx, err)
	}
	for {
		if err := o.Step(ctx); err != nil {
			return ignoreCancel(ctx, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Step performs the action that leaves the current state.
func (o *Orchestrator) Step(ctx context.Context) error {
	switch st := o.state(); st {
	case Idle:
		o.moveToObserve(ctx)
		o.transition(ctx, Observing, "observe")
	case Observing:
		o.beginCycle(ctx)
		o.transition(ctx, AwaitingInput, "cycle")
	case AwaitingInput:
		return o.approach(ctx)
	case Approaching:
		o.grasp(ctx)
	case Grasping:
		o.transport(ctx)
	case Transporting:
		o.release(ctx)
		o.transition(ctx, Releasing, "released")
	case Releasing:
		o.moveToObserve(ctx)
		o.transition(ctx, Observing, "observe")
	default:
		return fmt.Errorf("pickplace: no action for state %s", st)
	}
	return ctx.Err()
}

func (o *Orchestrator) moveToObserve(ctx context.Context) {
	if err := o.mover.MoveToJoints(ctx, o.cfg.ObserveJoints); err != nil {
		o.fail("observe move", err)
	}
}

func (o *Orchestrator) beginCycle(ctx context.Context) {
	o.update(func(s *Session) {
		s.Cycle++
		s.resetCycle()
	})
	if err := o.world.Reconcile(ctx); err != nil {
		o.fail("reconcile", err)
	}
	o.clearObject(ctx, o.cfg.ObjectName)
}

// clearObject detaches and removes name if the registry still holds it.
// Failures are logged only.
func (o *Orchestrator) clearObject(ctx context.Context, name string) {
	if o.world.State(name) == scene.Attached {
		if err := o.world.DetachObject(ctx, name, o.cfg.EEFLink); err != nil {
			o.fail("detach stale object", err)
		}
	}
	if o.world.State(name) == scene.Known {
		if err := o.world.RemoveObject(ctx, name); err != nil {
			o.fail("remove stale object", err)
		}
	}
	if o.world.State(name) == scene.Unknown {
		o.update(func(s *Session) {
			if s.ActiveObject == name {
				s.ActiveObject = ""
			}
		})
	}
}

// graspTarget derives the approach pose from the tracked object.
func (o *Orchestrator) graspTarget(obj tracking.TrackedObject) geom.Pose {
	p := obj.Pose.Position
	yaw := o.cfg.ReferenceYaw - obj.Orientation
	return geom.PoseFromRPY(p.X, p.Y, o.cfg.ApproachHeight, 0, o.cfg.GraspPitch, yaw)
}

func (o *Orchestrator) approach(ctx context.Context) error {
	if err := o.gate.Wait(ctx); err != nil {
		return err
	}

	obj := o.poses.Snapshot()
	if !obj.Fresh {
		monitoring.Opsf("pickplace: no object pose received yet")
		o.transition(ctx, Observing, "no-pose")
		return ctx.Err()
	}
	if age := obj.Age(o.clock.Now()); o.cfg.MaxAge > 0 && age > o.cfg.MaxAge {
		monitoring.Opsf("pickplace: object pose is %v old (max %v)", age, o.cfg.MaxAge)
		o.transition(ctx, Observing, "stale-pose")
		return ctx.Err()
	}

	target := o.graspTarget(obj)
	o.update(func(s *Session) { s.LastTarget = &target })
	monitoring.Diagf("pickplace: object at (%.3f, %.3f) angle %.3f, target %s",
		obj.Pose.Position.X, obj.Pose.Position.Y, obj.Orientation, target)

	if o.cfg.PickOnly {
		return o.pickOnly(ctx, target)
	}

	name := o.cfg.ObjectName
	objPose := geom.PoseAt(obj.Pose.Position.X, obj.Pose.Position.Y, o.cfg.ObjectHeight)
	if err := o.world.AddFreeObject(ctx, name, objPose, o.cfg.ObjectBox); err != nil {
		o.fail("add object", err)
		o.transition(ctx, Observing, "add-failed")
		return ctx.Err()
	}
	o.update(func(s *Session) { s.ActiveObject = name })

	plan, planErr := o.planApproach(ctx, target)
	if planErr != nil {
		o.fail("plan approach", planErr)
	}

	if o.cfg.ConfirmPlan {
		if err := o.gate.Wait(ctx); err != nil {
			return err
		}
	}

	var moveErr error
	switch {
	case o.cfg.ApproachMode != ApproachPose && planErr == nil:
		moveErr = o.mover.ExecutePlan(ctx, plan)
	default:
		moveErr = o.mover.MoveToPose(ctx, target)
	}
	if moveErr != nil {
		o.fail("approach move", moveErr)
		if o.cfg.GateOnMotionSuccess {
			o.abort(ctx, "approach-failed")
			return ctx.Err()
		}
	}
	o.transition(ctx, Approaching, "approached")
	return ctx.Err()
}

func (o *Orchestrator) planApproach(ctx context.Context, target geom.Pose) (motion.Plan, error) {
	current, err := o.mover.CurrentPose(ctx)
	if err != nil {
		return motion.Plan{}, err
	}
	wps := waypoint.StraightLine(current, target)
	if o.cfg.ApproachMode == ApproachInterpolated {
		inner, err := waypoint.MultiPointInterpolate(current, target, o.cfg.Segments)
		if err != nil {
			return motion.Plan{}, err
		}
		wps = append(inner, wps...)
	}
	plan, err := o.mover.PlanCartesian(ctx, waypoint.Goal(wps, o.cfg.Waypoint))
	if err != nil {
		return motion.Plan{}, err
	}
	o.update(func(s *Session) {
		s.LastPlan = plan.ID
		s.LastFraction = plan.Fraction
	})
	return plan, nil
}

func (o *Orchestrator) pickOnly(ctx context.Context, target geom.Pose) error {
	if err := o.mover.MoveToPose(ctx, target); err != nil {
		o.fail("approach move", err)
	}
	o.transition(ctx, Approaching, "approached")
	if err := timeutil.Sleep(ctx, o.clock, o.cfg.PickOnlyDwell); err != nil {
		return err
	}
	o.moveToObserve(ctx)
	o.transition(ctx, Observing, "pick-only")
	return ctx.Err()
}

func (o *Orchestrator) grasp(ctx context.Context) {
	name := o.cfg.ObjectName
	if err := o.world.AttachObject(ctx, name, o.cfg.EEFLink, o.cfg.TouchLinks); err != nil {
		o.fail("attach", err)
		o.abort(ctx, "attach-failed")
		return
	}
	o.transition(ctx, Grasping, "attached")
}

func (o *Orchestrator) transport(ctx context.Context) {
	var err error
	if o.cfg.UprightTransport {
		cons := motion.Constraints{Orientation: []motion.OrientationConstraint{
			motion.UprightConstraint(o.cfg.EEFLink, o.cfg.PlanningFrame),
		}}
		err = o.mover.MoveToConstrainedPose(ctx, o.cfg.PlacePose, cons)
	} else {
		err = o.mover.MoveToPose(ctx, o.cfg.PlacePose)
	}
	if err != nil {
		o.fail("transport move", err)
		if o.cfg.GateOnMotionSuccess {
			o.abort(ctx, "transport-failed")
			return
		}
	}
	o.transition(ctx, Transporting, "transported")
}

func (o *Orchestrator) release(ctx context.Context) {
	name := o.cfg.ObjectName
	if err := o.world.DetachObject(ctx, name, o.cfg.EEFLink); err != nil {
		o.fail("detach", err)
	}
	if st := o.world.State(name); st != scene.Known {
		monitoring.Opsf("pickplace: cycle %d: %q is %s after release; removal left to the next cycle", o.Snapshot().Cycle, name, st)
	} else if err := o.world.RemoveObject(ctx, name); err != nil {
		o.fail("remove", err)
	}
	if o.world.State(name) == scene.Unknown {
		o.update(func(s *Session) { s.ActiveObject = "" })
	}
}

// abort cleans up the active object and returns to the observe
// configuration.
func (o *Orchestrator) abort(ctx context.Context, event string) {
	o.clearObject(ctx, o.cfg.ObjectName)
	o.moveToObserve(ctx)
	o.transition(ctx, Observing, event)
}

// Elapsed reports how long the session has been running.
func (o *Orchestrator) Elapsed() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.clock.Since(o.session.StartedAt)
}

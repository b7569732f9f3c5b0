package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/motion"
)

// ErrPlanningFailed is returned by injected failures.
var ErrPlanningFailed = errors.New("sim arm: no motion plan found")

// DefaultReach is the UR5 working radius in metres.
const DefaultReach = 0.85

// Arm is a six-joint arm that reaches every goal instantly.
type Arm struct {
	mu      sync.Mutex
	joints  geom.JointConfiguration
	pose    geom.Pose
	reach   float64
	failNxt map[string]int
	rate    float64
	rng     *rand.Rand
	history []motion.Goal
	poses   []stationPose
}

type stationPose struct {
	joints geom.JointConfiguration
	pose   geom.Pose
}

// NewArm returns an arm at the zero configuration with its end effector at
// home.
func NewArm(home geom.Pose) *Arm {
	return &Arm{
		joints:  make(geom.JointConfiguration, 6),
		pose:    home,
		reach:   DefaultReach,
		failNxt: make(map[string]int),
		rng:     rand.New(rand.NewPCG(1, 2)),
	}
}

// SetStation records the end-effector pose the arm takes at joints, so joint
// moves also update the reported pose.
func (a *Arm) SetStation(joints geom.JointConfiguration, pose geom.Pose) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poses = append(a.poses, stationPose{joints: joints.Clone(), pose: pose})
}

// FailNext makes the next n goals of kind fail.
func (a *Arm) FailNext(kind string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNxt[kind] += n
}

// SetFailureRate makes any goal fail with probability p.
func (a *Arm) SetFailureRate(p float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rate = p
}

// Goals returns every goal received, oldest first.
func (a *Arm) Goals() []motion.Goal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]motion.Goal(nil), a.history...)
}

func (a *Arm) failLocked(kind string) bool {
	if a.failNxt[kind] > 0 {
		a.failNxt[kind]--
		return true
	}
	return a.rate > 0 && a.rng.Float64() < a.rate
}

func (a *Arm) MoveToJointGoal(ctx context.Context, g motion.JointGoal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, g)
	if a.failLocked(motion.KindJoint) {
		return ErrPlanningFailed
	}
	a.joints = g.Joints.Clone()
	for _, st := range a.poses {
		if geom.JointsClose(st.joints, g.Joints, 1e-6) {
			a.pose = st.pose
			break
		}
	}
	return nil
}

func (a *Arm) MoveToPoseGoal(ctx context.Context, g motion.PoseGoal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, g)
	if a.failLocked(motion.KindPose) {
		return ErrPlanningFailed
	}
	if !a.reachableLocked(g.Pose.Position) {
		return fmt.Errorf("%w: %s is out of reach", ErrPlanningFailed, g.Pose)
	}
	a.pose = g.Pose
	return nil
}

// ComputeCartesianPath follows the waypoints until the first one out of
// reach; the fraction is the share of waypoints covered.
func (a *Arm) ComputeCartesianPath(ctx context.Context, g motion.CartesianGoal) (motion.Plan, error) {
	if err := ctx.Err(); err != nil {
		return motion.Plan{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, g)
	if a.failLocked(motion.KindCartesian) {
		return motion.Plan{}, ErrPlanningFailed
	}
	covered := 0
	for _, wp := range g.Waypoints {
		if !a.reachableLocked(wp.Position) {
			break
		}
		covered++
	}
	fraction := 0.0
	if len(g.Waypoints) > 0 {
		fraction = float64(covered) / float64(len(g.Waypoints))
	}
	return motion.NewPlan(append([]geom.Pose(nil), g.Waypoints[:covered]...), fraction), nil
}

func (a *Arm) Execute(ctx context.Context, plan motion.Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failLocked(motion.KindExecute) {
		return ErrPlanningFailed
	}
	if n := len(plan.Waypoints); n > 0 {
		a.pose = plan.Waypoints[n-1]
	}
	return nil
}

func (a *Arm) CurrentPose(context.Context) (geom.Pose, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pose, nil
}

func (a *Arm) CurrentJoints(context.Context) (geom.JointConfiguration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joints.Clone(), nil
}

func (a *Arm) reachableLocked(p r3.Vec) bool {
	return r3.Norm(p) <= a.reach
}

var _ motion.Executor = (*Arm)(nil)

package motion

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/monitoring"
)

// DefaultTolerance is the per-component closeness tolerance applied after
// every move (metres, quaternion units or radians).
const DefaultTolerance = 0.01

// ErrMotionFailure is matched by every *Error.
var ErrMotionFailure = errors.New("motion failed")

// Error describes a failed goal.
type Error struct {
	Kind   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s goal: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s goal: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports ErrMotionFailure for every motion error.
func (e *Error) Is(target error) bool { return target == ErrMotionFailure }

// Executor is the motion planner and executor contract.
type Executor interface {
	MoveToJointGoal(ctx context.Context, goal JointGoal) error
	MoveToPoseGoal(ctx context.Context, goal PoseGoal) error
	ComputeCartesianPath(ctx context.Context, goal CartesianGoal) (Plan, error)
	Execute(ctx context.Context, plan Plan) error
	CurrentPose(ctx context.Context) (geom.Pose, error)
	CurrentJoints(ctx context.Context) (geom.JointConfiguration, error)
}

// CommanderConfig configures a Commander.
type CommanderConfig struct {
	// JointCount is the number of joints of the arm; joint goals of any
	// other length are refused. Zero disables the check.
	JointCount int
	Tolerance  float64
}

// Commander issues goals to an Executor and verifies the arm reached them.
type Commander struct {
	exec       Executor
	jointCount int
	tolerance  float64
}

// NewCommander returns a Commander driving exec.
func NewCommander(exec Executor, cfg CommanderConfig) *Commander {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	return &Commander{exec: exec, jointCount: cfg.JointCount, tolerance: cfg.Tolerance}
}

// MoveToJoints moves to a joint configuration and checks every joint landed
// within tolerance.
func (c *Commander) MoveToJoints(ctx context.Context, joints geom.JointConfiguration) error {
	if c.jointCount > 0 && len(joints) != c.jointCount {
		return &Error{Kind: KindJoint, Reason: fmt.Sprintf("goal has %d joints, arm has %d", len(joints), c.jointCount)}
	}
	if err := c.exec.MoveToJointGoal(ctx, JointGoal{Joints: joints.Clone()}); err != nil {
		return &Error{Kind: KindJoint, Reason: "executor failed", Err: err}
	}
	actual, err := c.exec.CurrentJoints(ctx)
	if err != nil {
		return &Error{Kind: KindJoint, Reason: "reading joints", Err: err}
	}
	if !geom.JointsClose(joints, actual, c.tolerance) {
		return &Error{Kind: KindJoint, Reason: fmt.Sprintf("arm at %v, not within %.3f of %v", actual, c.tolerance, joints)}
	}
	monitoring.Diagf("motion: reached joints %v", joints)
	return nil
}

// MoveToPose moves the end effector to pose.
func (c *Commander) MoveToPose(ctx context.Context, pose geom.Pose) error {
	return c.moveToPose(ctx, PoseGoal{Pose: pose})
}

// MoveToConstrainedPose moves to pose while the planner honours cons for
// the whole path.
func (c *Commander) MoveToConstrainedPose(ctx context.Context, pose geom.Pose, cons Constraints) error {
	return c.moveToPose(ctx, PoseGoal{Pose: pose, Constraints: &cons})
}

func (c *Commander) moveToPose(ctx context.Context, goal PoseGoal) error {
	if !goal.Pose.Valid() {
		return &Error{Kind: KindPose, Reason: fmt.Sprintf("invalid pose %s", goal.Pose)}
	}
	if err := c.exec.MoveToPoseGoal(ctx, goal); err != nil {
		return &Error{Kind: KindPose, Reason: "executor failed", Err: err}
	}
	actual, err := c.exec.CurrentPose(ctx)
	if err != nil {
		return &Error{Kind: KindPose, Reason: "reading pose", Err: err}
	}
	if !geom.PoseClose(goal.Pose, actual, c.tolerance) {
		return &Error{Kind: KindPose, Reason: fmt.Sprintf("arm at %s, not within %.3f of %s", actual, c.tolerance, goal.Pose)}
	}
	monitoring.Diagf("motion: reached pose %s", goal.Pose)
	return nil
}

// PlanCartesian computes a Cartesian path without moving the arm. A partial
// plan (Fraction < 1) is returned without error.
func (c *Commander) PlanCartesian(ctx context.Context, goal CartesianGoal) (Plan, error) {
	if len(goal.Waypoints) == 0 {
		return Plan{}, &Error{Kind: KindCartesian, Reason: "no waypoints"}
	}
	for i, wp := range goal.Waypoints {
		if !wp.Valid() {
			return Plan{}, &Error{Kind: KindCartesian, Reason: fmt.Sprintf("invalid waypoint %d: %s", i, wp)}
		}
	}
	if goal.EEFStep <= 0 {
		goal.EEFStep = DefaultEEFStep
	}
	plan, err := c.exec.ComputeCartesianPath(ctx, goal)
	if err != nil {
		return Plan{}, &Error{Kind: KindCartesian, Reason: "planning failed", Err: err}
	}
	monitoring.Diagf("motion: cartesian plan %s covers %.0f%% of %d waypoints", plan.ID, plan.Fraction*100, len(goal.Waypoints))
	return plan, nil
}

// ExecutePlan runs a previously computed plan.
func (c *Commander) ExecutePlan(ctx context.Context, plan Plan) error {
	if err := c.exec.Execute(ctx, plan); err != nil {
		return &Error{Kind: KindExecute, Reason: fmt.Sprintf("plan %s", plan.ID), Err: err}
	}
	return nil
}

// CurrentPose reports the end-effector pose.
func (c *Commander) CurrentPose(ctx context.Context) (geom.Pose, error) {
	return c.exec.CurrentPose(ctx)
}

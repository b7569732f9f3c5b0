// Package motion defines the goals the controller sends to the arm's motion
// executor and the Commander that issues them and checks where the arm
// actually ended up.
package motion

import (
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pickplace/internal/geom"
)

// Goal kinds, as reported in errors and the journal.
const (
	KindJoint     = "joint"
	KindPose      = "pose"
	KindCartesian = "cartesian"
	KindExecute   = "execute"
)

// Default Cartesian path parameters: 1 cm interpolation, jump check disabled.
const (
	DefaultEEFStep       = 0.01
	DefaultJumpThreshold = 0.0
)

// Goal is one of JointGoal, PoseGoal or CartesianGoal.
type Goal interface {
	Kind() string
	isGoal()
}

// JointGoal targets a configuration in joint space.
type JointGoal struct {
	Joints geom.JointConfiguration
}

// PoseGoal targets an end-effector pose, optionally under path constraints.
type PoseGoal struct {
	Pose        geom.Pose
	Constraints *Constraints
	// PlanningTime overrides the executor's default planning budget when set.
	PlanningTime time.Duration
}

// CartesianGoal asks for a path through end-effector waypoints.
type CartesianGoal struct {
	Waypoints     []geom.Pose
	EEFStep       float64
	JumpThreshold float64
}

func (JointGoal) Kind() string     { return KindJoint }
func (PoseGoal) Kind() string      { return KindPose }
func (CartesianGoal) Kind() string { return KindCartesian }

func (JointGoal) isGoal()     {}
func (PoseGoal) isGoal()      {}
func (CartesianGoal) isGoal() {}

// Constraints restricts how the planner may reach a pose goal.
type Constraints struct {
	Orientation []OrientationConstraint
}

// OrientationConstraint keeps a link's orientation near a reference for the
// whole path.
type OrientationConstraint struct {
	Link  string
	Frame string
	// Orientation is the reference orientation in Frame.
	Orientation quat.Number
	// Tolerance holds the absolute x, y and z axis tolerances in radians.
	Tolerance r3.Vec
	Weight    float64
}

// UprightConstraint holds link at the identity orientation in frame with
// 0.1 rad tolerance on every axis.
func UprightConstraint(link, frame string) OrientationConstraint {
	return OrientationConstraint{
		Link:        link,
		Frame:       frame,
		Orientation: geom.Identity(),
		Tolerance:   r3.Vec{X: 0.1, Y: 0.1, Z: 0.1},
		Weight:      1.0,
	}
}

// Plan is a computed Cartesian trajectory. Fraction is the share of the
// requested path the planner could follow, from 0 to 1.
type Plan struct {
	ID        string
	Waypoints []geom.Pose
	Fraction  float64
}

// NewPlan assigns a fresh ID to a computed path.
func NewPlan(waypoints []geom.Pose, fraction float64) Plan {
	return Plan{ID: uuid.New().String(), Waypoints: waypoints, Fraction: fraction}
}

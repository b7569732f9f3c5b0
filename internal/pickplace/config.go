package pickplace

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/scene"
	"github.com/banshee-data/pickplace/internal/waypoint"
)

// ApproachMode selects how the arm approaches the object.
type ApproachMode string

const (
	// ApproachPose issues a pose goal and leaves the path to the planner.
	ApproachPose ApproachMode = "pose"
	// ApproachCartesian executes the straight-line Cartesian plan.
	ApproachCartesian ApproachMode = "cartesian"
	// ApproachInterpolated executes a Cartesian plan through evenly spaced
	// intermediate waypoints.
	ApproachInterpolated ApproachMode = "interpolated"
)

// Config holds the cell geometry and cycle policy.
type Config struct {
	ObserveJoints geom.JointConfiguration
	ZeroJoints    geom.JointConfiguration
	PlacePose     geom.Pose

	// ApproachHeight is the end-effector height above the object for the
	// grasp; ObjectHeight is where the collision box is centred.
	ApproachHeight float64
	ObjectHeight   float64
	GraspPitch     float64
	// ReferenceYaw minus the observed planar angle gives the grasp yaw.
	ReferenceYaw float64

	ObjectName string
	ObjectBox  scene.Box
	Boundary   []scene.BoundaryObject

	EEFLink    string
	TouchLinks []string
	// PlanningFrame names the frame the upright transport constraint is
	// expressed in.
	PlanningFrame string

	ApproachMode ApproachMode
	// Segments is the interpolation count for ApproachInterpolated.
	Segments int
	Waypoint waypoint.Config

	PickOnly      bool
	PickOnlyDwell time.Duration
	// ConfirmPlan waits on the gate a second time before the approach move.
	ConfirmPlan bool
	// UprightTransport keeps the end effector upright on the way to the
	// place pose.
	UprightTransport bool
	// GateOnMotionSuccess aborts the cycle when the approach or transport
	// move fails instead of carrying on.
	GateOnMotionSuccess bool
	// MaxAge rejects tracked poses older than this. Zero accepts any age.
	MaxAge time.Duration
	// ScriptedPathScale runs the scripted demo path during Prepare when
	// positive.
	ScriptedPathScale float64
}

// DefaultBoundary is the cell's fixed environment: two walls and the base
// plate.
func DefaultBoundary() []scene.BoundaryObject {
	return []scene.BoundaryObject{
		{Name: "box1", Pose: geom.PoseAt(-0.25, -0.5, 0.5), Shape: scene.Box{X: 1, Y: 0.2, Z: 1}},
		{Name: "box2", Pose: geom.PoseAt(-0.65, 0, 0.5), Shape: scene.Box{X: 0.2, Y: 0.8, Z: 1}},
		{Name: "base", Pose: geom.PoseAt(0, 0, -0.05), Shape: scene.Box{X: 1.5, Y: 1.5, Z: 0.1}},
	}
}

// DefaultConfig returns the UR5 cell settings.
func DefaultConfig() Config {
	return Config{
		ObserveJoints: geom.JointConfiguration{
			-0.27640452940659355, -1.5613947841166143, 0.8086120509001136,
			-0.8173772811698496, -1.5702185440399328, -0.2754254250487067,
		},
		ZeroJoints:     geom.JointConfiguration{0, -math.Pi / 2, 0, -math.Pi / 2, 0, 0},
		PlacePose:      geom.PoseFromRPY(-0.1, 0.4, 0.3, 0, 1.57, 0),
		ApproachHeight: 0.1,
		ObjectHeight:   0.05,
		GraspPitch:     1.57,
		ReferenceYaw:   1.57,
		ObjectName:     "box",
		ObjectBox:      scene.Box{X: 0.1, Y: 0.1, Z: 0.1},
		Boundary:       DefaultBoundary(),
		EEFLink:        "ee_link",
		TouchLinks:     []string{"robotiq_85_left_finger_tip_link", "robotiq_85_right_finger_tip_link"},
		PlanningFrame:  "base_link",
		ApproachMode:   ApproachPose,
		Segments:       5,
		Waypoint:       waypoint.DefaultConfig(),
		PickOnlyDwell:  2 * time.Second,
	}
}

// Validate reports configuration that would make every cycle fail.
func (c Config) Validate() error {
	var errs []error
	if len(c.ObserveJoints) == 0 {
		errs = append(errs, errors.New("observe joints are required"))
	}
	if len(c.ZeroJoints) != len(c.ObserveJoints) {
		errs = append(errs, fmt.Errorf("zero joints have %d values, observe joints %d", len(c.ZeroJoints), len(c.ObserveJoints)))
	}
	if !c.PlacePose.Valid() {
		errs = append(errs, errors.New("place pose is invalid"))
	}
	if c.ObjectName == "" {
		errs = append(errs, errors.New("object name is required"))
	}
	if c.ObjectBox.X <= 0 || c.ObjectBox.Y <= 0 || c.ObjectBox.Z <= 0 {
		errs = append(errs, fmt.Errorf("object box %+v must be positive", c.ObjectBox))
	}
	if c.EEFLink == "" {
		errs = append(errs, errors.New("end-effector link is required"))
	}
	switch c.ApproachMode {
	case ApproachPose, ApproachCartesian:
	case ApproachInterpolated:
		if c.Segments < 2 {
			errs = append(errs, fmt.Errorf("interpolated approach needs at least 2 segments, got %d", c.Segments))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown approach mode %q", c.ApproachMode))
	}
	if c.PickOnlyDwell < 0 || c.MaxAge < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	return errors.Join(errs...)
}

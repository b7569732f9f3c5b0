// Package config loads the pick-and-place cell configuration from JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/pickplace"
	"github.com/banshee-data/pickplace/internal/scene"
	"github.com/banshee-data/pickplace/internal/timeutil"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/pickplace.defaults.json"

// PoseRPY is a pose written as position plus roll, pitch and yaw.
type PoseRPY struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

func (p PoseRPY) Pose() geom.Pose {
	return geom.PoseFromRPY(p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}

// BoundaryBox is a fixed obstacle in the planning frame.
type BoundaryBox struct {
	Name string     `json:"name"`
	Pose PoseRPY    `json:"pose"`
	Size [3]float64 `json:"size"`
}

// PickPlaceConfig is the on-disk configuration. Every field is optional;
// the Get* methods supply defaults for fields left out.
type PickPlaceConfig struct {
	// Cell geometry
	ObserveJoints []float64     `json:"observe_joints,omitempty"`
	ZeroJoints    []float64     `json:"zero_joints,omitempty"`
	PlacePose     *PoseRPY      `json:"place_pose,omitempty"`
	Boundary      []BoundaryBox `json:"boundary,omitempty"`
	// CameraMount is the camera-to-base transform as a row-major 4x4 matrix.
	CameraMount []float64 `json:"camera_mount,omitempty"`

	// Frames
	BaseFrame              *string `json:"base_frame,omitempty"`
	CameraFrame            *string `json:"camera_frame,omitempty"`
	TransformLookupTimeout *string `json:"transform_lookup_timeout,omitempty"` // duration string like "1s"

	// Grasp
	ApproachHeight *float64  `json:"approach_height,omitempty"`
	ObjectHeight   *float64  `json:"object_height,omitempty"`
	GraspPitch     *float64  `json:"grasp_pitch,omitempty"`
	ReferenceYaw   *float64  `json:"reference_yaw,omitempty"`
	ObjectName     *string   `json:"object_name,omitempty"`
	ObjectSize     []float64 `json:"object_size,omitempty"`
	EEFLink        *string   `json:"eef_link,omitempty"`
	TouchLinks     []string  `json:"touch_links,omitempty"`
	GoalTolerance  *float64  `json:"goal_tolerance,omitempty"`

	// Paths
	ApproachMode  *string  `json:"approach_mode,omitempty"`
	Segments      *int     `json:"segments,omitempty"`
	EEFStep       *float64 `json:"eef_step,omitempty"`
	JumpThreshold *float64 `json:"jump_threshold,omitempty"`

	// Cycle policy
	PickOnly            *bool   `json:"pick_only,omitempty"`
	PickOnlyDwell       *string `json:"pick_only_dwell,omitempty"`
	ConfirmPlan         *bool   `json:"confirm_plan,omitempty"`
	UprightTransport    *bool   `json:"upright_transport,omitempty"`
	GateOnMotionSuccess *bool   `json:"gate_on_motion_success,omitempty"`
	MaxPoseAge          *string `json:"max_pose_age,omitempty"`

	// World-model polling
	ScenePollInterval *string `json:"scene_poll_interval,omitempty"`
	SceneTimeout      *string `json:"scene_timeout,omitempty"`

	HistorySize *int `json:"history_size,omitempty"`
}

// LoadPickPlaceConfig loads a config from a JSON file. The file must have
// a .json extension and be under 1 MB.
func LoadPickPlaceConfig(path string) (*PickPlaceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PickPlaceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded, intended for
// test setup.
func MustLoadDefaultConfig() *PickPlaceConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from cmd/tools/track-plot/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPickPlaceConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *PickPlaceConfig) Validate() error {
	var errs []error
	for name, v := range map[string]*string{
		"transform_lookup_timeout": c.TransformLookupTimeout,
		"pick_only_dwell":          c.PickOnlyDwell,
		"max_pose_age":             c.MaxPoseAge,
		"scene_poll_interval":      c.ScenePollInterval,
		"scene_timeout":            c.SceneTimeout,
	} {
		if err := checkDuration(name, v); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.ObserveJoints) > 0 && len(c.ZeroJoints) > 0 && len(c.ObserveJoints) != len(c.ZeroJoints) {
		errs = append(errs, fmt.Errorf("observe_joints has %d values, zero_joints %d", len(c.ObserveJoints), len(c.ZeroJoints)))
	}
	if c.ObjectSize != nil && len(c.ObjectSize) != 3 {
		errs = append(errs, fmt.Errorf("object_size needs 3 values, got %d", len(c.ObjectSize)))
	}
	if c.CameraMount != nil {
		if _, err := c.GetCameraMount(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ApproachMode != nil {
		switch pickplace.ApproachMode(*c.ApproachMode) {
		case pickplace.ApproachPose, pickplace.ApproachCartesian, pickplace.ApproachInterpolated:
		default:
			errs = append(errs, fmt.Errorf("unknown approach_mode %q", *c.ApproachMode))
		}
	}
	if c.Segments != nil && *c.Segments < 2 {
		errs = append(errs, fmt.Errorf("segments must be at least 2, got %d", *c.Segments))
	}
	if c.EEFStep != nil && *c.EEFStep <= 0 {
		errs = append(errs, fmt.Errorf("eef_step must be positive, got %f", *c.EEFStep))
	}
	if c.GoalTolerance != nil && *c.GoalTolerance <= 0 {
		errs = append(errs, fmt.Errorf("goal_tolerance must be positive, got %f", *c.GoalTolerance))
	}
	if c.HistorySize != nil && *c.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("history_size must be positive, got %d", *c.HistorySize))
	}
	return errors.Join(errs...)
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GetBaseFrame returns the robot base frame name.
func (c *PickPlaceConfig) GetBaseFrame() string {
	return stringOr(c.BaseFrame, "base_link")
}

// GetCameraFrame returns the frame observations arrive in.
func (c *PickPlaceConfig) GetCameraFrame() string {
	return stringOr(c.CameraFrame, "camera_depth_optical_frame")
}

// GetTransformLookupTimeout returns how long to wait for a frame transform.
func (c *PickPlaceConfig) GetTransformLookupTimeout() time.Duration {
	return durationOr(c.TransformLookupTimeout, time.Second)
}

// GetCameraMount returns the camera-to-base transform. The default mount
// looks straight down from 1 m above (0.4, 0).
func (c *PickPlaceConfig) GetCameraMount() (geom.Transform, error) {
	if c.CameraMount == nil {
		return geom.TransformFromPose(geom.PoseFromRPY(0.4, 0, 1.0, math.Pi, 0, 0)), nil
	}
	if len(c.CameraMount) != 16 {
		return geom.Transform{}, fmt.Errorf("camera_mount needs 16 values, got %d", len(c.CameraMount))
	}
	var m [16]float64
	copy(m[:], c.CameraMount)
	tf, err := geom.TransformFromMatrix(m)
	if err != nil {
		return geom.Transform{}, fmt.Errorf("camera_mount: %w", err)
	}
	return tf, nil
}

// GetScenePollInterval returns the world-model polling interval.
func (c *PickPlaceConfig) GetScenePollInterval() time.Duration {
	return durationOr(c.ScenePollInterval, timeutil.DefaultPollInterval)
}

// GetSceneTimeout returns how long a world-model change may take to show.
func (c *PickPlaceConfig) GetSceneTimeout() time.Duration {
	return durationOr(c.SceneTimeout, timeutil.DefaultPollTimeout)
}

// GetGoalTolerance returns the goal-closeness tolerance.
func (c *PickPlaceConfig) GetGoalTolerance() float64 {
	return floatOr(c.GoalTolerance, 0.01)
}

// GetHistorySize returns how many tracked poses are kept in memory.
func (c *PickPlaceConfig) GetHistorySize() int {
	if c.HistorySize == nil {
		return 512
	}
	return *c.HistorySize
}

// GetMaxPoseAge returns the oldest tracked pose a cycle will act on. Zero
// disables the check.
func (c *PickPlaceConfig) GetMaxPoseAge() time.Duration {
	return durationOr(c.MaxPoseAge, 0)
}

// PickPlace builds the orchestrator configuration, starting from
// pickplace.DefaultConfig and applying every field that is set.
func (c *PickPlaceConfig) PickPlace() pickplace.Config {
	out := pickplace.DefaultConfig()
	if len(c.ObserveJoints) > 0 {
		out.ObserveJoints = append(geom.JointConfiguration(nil), c.ObserveJoints...)
	}
	if len(c.ZeroJoints) > 0 {
		out.ZeroJoints = append(geom.JointConfiguration(nil), c.ZeroJoints...)
	}
	if c.PlacePose != nil {
		out.PlacePose = c.PlacePose.Pose()
	}
	if c.Boundary != nil {
		out.Boundary = make([]scene.BoundaryObject, 0, len(c.Boundary))
		for _, b := range c.Boundary {
			out.Boundary = append(out.Boundary, scene.BoundaryObject{
				Name:  b.Name,
				Pose:  b.Pose.Pose(),
				Shape: scene.Box{X: b.Size[0], Y: b.Size[1], Z: b.Size[2]},
			})
		}
	}
	out.ApproachHeight = floatOr(c.ApproachHeight, out.ApproachHeight)
	out.ObjectHeight = floatOr(c.ObjectHeight, out.ObjectHeight)
	out.GraspPitch = floatOr(c.GraspPitch, out.GraspPitch)
	out.ReferenceYaw = floatOr(c.ReferenceYaw, out.ReferenceYaw)
	out.ObjectName = stringOr(c.ObjectName, out.ObjectName)
	if len(c.ObjectSize) == 3 {
		out.ObjectBox = scene.Box{X: c.ObjectSize[0], Y: c.ObjectSize[1], Z: c.ObjectSize[2]}
	}
	out.EEFLink = stringOr(c.EEFLink, out.EEFLink)
	if c.TouchLinks != nil {
		out.TouchLinks = append([]string(nil), c.TouchLinks...)
	}
	out.PlanningFrame = c.GetBaseFrame()
	out.ApproachMode = pickplace.ApproachMode(stringOr(c.ApproachMode, string(out.ApproachMode)))
	if c.Segments != nil {
		out.Segments = *c.Segments
	}
	out.Waypoint.EEFStep = floatOr(c.EEFStep, out.Waypoint.EEFStep)
	out.Waypoint.JumpThreshold = floatOr(c.JumpThreshold, out.Waypoint.JumpThreshold)
	out.PickOnly = boolOr(c.PickOnly, out.PickOnly)
	out.PickOnlyDwell = durationOr(c.PickOnlyDwell, out.PickOnlyDwell)
	out.ConfirmPlan = boolOr(c.ConfirmPlan, out.ConfirmPlan)
	out.UprightTransport = boolOr(c.UprightTransport, out.UprightTransport)
	out.GateOnMotionSuccess = boolOr(c.GateOnMotionSuccess, out.GateOnMotionSuccess)
	out.MaxAge = c.GetMaxPoseAge()
	return out
}

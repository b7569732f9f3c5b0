package main

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/pickplace/internal/config"
	"github.com/banshee-data/pickplace/internal/frames"
	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/pickplace"
	"github.com/banshee-data/pickplace/internal/sim"
	"github.com/banshee-data/pickplace/internal/timeutil"
)

// Station poses the simulated arm reports at the configured joint targets.
var (
	simHomePose    = geom.PoseFromRPY(0.4, 0, 0.7, 0, 1.57, 0)
	simObservePose = geom.PoseFromRPY(0.3, 0, 0.6, 0, 1.57, 0)
	simZeroPose    = geom.PoseFromRPY(0, 0.1, 0.8, 0, 0, 0)
)

// simCell is the simulated robot cell the controller drives: an arm, an
// eventually consistent collision world and a camera board watching the
// table.
type simCell struct {
	Arm   *sim.Arm
	Scene *sim.Scene
	Board *sim.VisionBoard
	Tree  *frames.Tree
}

type simOptions struct {
	SceneLag    time.Duration
	Noise       float64
	FailureRate float64
	Seed        uint64
	Clock       timeutil.Clock
}

func newSimCell(cfg *config.PickPlaceConfig, opts simOptions) (*simCell, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	mount, err := cfg.GetCameraMount()
	if err != nil {
		return nil, err
	}
	pp := cfg.PickPlace()

	tree := frames.NewTree(opts.Clock)
	if err := tree.SetTransform(cfg.GetBaseFrame(), cfg.GetCameraFrame(), mount); err != nil {
		return nil, fmt.Errorf("camera mount: %w", err)
	}

	arm := sim.NewArm(simHomePose)
	arm.SetStation(pp.ObserveJoints, simObservePose)
	arm.SetStation(pp.ZeroJoints, simZeroPose)
	if opts.FailureRate > 0 {
		arm.SetFailureRate(opts.FailureRate)
	}

	board := sim.NewVisionBoard(mount, sim.BoardOptions{
		Frame: cfg.GetCameraFrame(),
		Noise: opts.Noise,
		Clock: opts.Clock,
		Seed:  opts.Seed,
	})
	board.Respawn()

	world := sim.NewScene(opts.Clock, opts.SceneLag)
	// A placed object leaves the table; put a fresh one in view.
	world.OnRemove(func(name string) {
		if name != pp.ObjectName {
			return
		}
		board.Respawn()
	})

	return &simCell{Arm: arm, Scene: world, Board: board, Tree: tree}, nil
}

// Gate kinds selectable with -input.
const (
	inputPrompt = "prompt"
	inputHTTP   = "http"
	inputAuto   = "auto"
)

// newGate returns the operator gate for kind. The manual gate is also
// returned so the API can release it; it is nil for other kinds.
func newGate(kind string, in io.Reader, out io.Writer, delay time.Duration) (pickplace.Gate, *pickplace.ManualGate, error) {
	switch kind {
	case inputPrompt:
		return pickplace.NewPromptGate(in, out, "Press enter to pick the object"), nil, nil
	case inputHTTP:
		g := pickplace.NewManualGate()
		return g, g, nil
	case inputAuto:
		return pickplace.AutoGate{Delay: delay}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown input mode %q (want %s, %s or %s)", kind, inputPrompt, inputHTTP, inputAuto)
	}
}

// degrees formats an angle for the startup banner.
func degrees(rad float64) string {
	return fmt.Sprintf("%.1f°", rad*180/math.Pi)
}

package waypoint

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pickplace/internal/geom"
)

var approx = cmpopts.EquateApprox(0, 1e-12)

func TestMultiPointInterpolate_FiveSegments(t *testing.T) {
	q0 := geom.FromRPY(0, 1.57, 0.3)
	from := geom.Pose{Position: r3.Vec{Z: 0.5}, Orientation: q0}
	to := geom.PoseAt(1, 0, 0.5)

	got, err := MultiPointInterpolate(from, to, 5)
	require.NoError(t, err)

	want := []geom.Pose{
		{Position: r3.Vec{X: 0.2, Z: 0.5}, Orientation: q0},
		{Position: r3.Vec{X: 0.4, Z: 0.5}, Orientation: q0},
		{Position: r3.Vec{X: 0.6, Z: 0.5}, Orientation: q0},
		{Position: r3.Vec{X: 0.8, Z: 0.5}, Orientation: q0},
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("MultiPointInterpolate() mismatch (-want +got):\n%s", diff)
	}
	for i, p := range got {
		assert.Equal(t, q0, p.Orientation, "orientation of waypoint %d must be exact", i)
	}
}

func TestMultiPointInterpolate_Formula(t *testing.T) {
	from := geom.PoseAt(-1, 2, 0.25)
	to := geom.PoseFromRPY(3, -4, 1.25, 0.1, 0.2, 0.3)

	for _, n := range []int{2, 3, 7, 10} {
		got, err := MultiPointInterpolate(from, to, n)
		require.NoError(t, err)
		require.Len(t, got, n-1)
		for i, p := range got {
			f := float64(i+1) / float64(n)
			assert.InDelta(t, (1-f)*from.Position.X+f*to.Position.X, p.Position.X, 1e-12)
			assert.InDelta(t, (1-f)*from.Position.Y+f*to.Position.Y, p.Position.Y, 1e-12)
			assert.InDelta(t, (1-f)*from.Position.Z+f*to.Position.Z, p.Position.Z, 1e-12)
			assert.Equal(t, from.Orientation, p.Orientation)
		}
	}
}

func TestMultiPointInterpolate_TooFewSegments(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		_, err := MultiPointInterpolate(geom.PoseAt(0, 0, 0), geom.PoseAt(1, 0, 0), n)
		assert.ErrorIs(t, err, ErrTooFewSegments, "n=%d", n)
	}
}

func TestStraightLine(t *testing.T) {
	from := geom.PoseFromRPY(0, 0, 0.4, 0, 1.57, 0)
	to := geom.PoseFromRPY(0.3, 0.1, 0.1, 0, 0, 1)

	got := StraightLine(from, to)
	require.Len(t, got, 1)
	assert.Equal(t, to.Position, got[0].Position)
	assert.Equal(t, from.Orientation, got[0].Orientation)
}

func TestScriptedApproach(t *testing.T) {
	current := geom.PoseFromRPY(0.4, 0, 0.5, 0, 1.57, 0)

	got := ScriptedApproach(current, 2)
	want := []geom.Pose{
		current.WithPosition(r3.Vec{X: 0.4, Y: 0, Z: 0.3}),
		current.WithPosition(r3.Vec{X: 0.4, Y: 0.4, Z: 0.3}),
		current.WithPosition(r3.Vec{X: 0.6, Y: 0.4, Z: 0.3}),
	}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("ScriptedApproach() mismatch (-want +got):\n%s", diff)
	}
}

func TestGoal(t *testing.T) {
	wps := []geom.Pose{geom.PoseAt(0.1, 0, 0)}
	g := Goal(wps, Config{})
	assert.Equal(t, 0.01, g.EEFStep)
	assert.Equal(t, 0.0, g.JumpThreshold)

	wps[0] = geom.PoseAt(9, 9, 9)
	assert.Equal(t, 0.1, g.Waypoints[0].Position.X, "goal must own its waypoints")

	assert.Equal(t, DefaultConfig(), Config{EEFStep: 0.01})
}

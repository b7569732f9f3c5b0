package geom

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// JointConfiguration is an ordered set of joint angles in radians.
type JointConfiguration []float64

// Clone returns an independent copy.
func (j JointConfiguration) Clone() JointConfiguration {
	return append(JointConfiguration(nil), j...)
}

// AllClose reports whether every goal component is within tolerance of the
// matching actual component. Slices of different length are never close.
// There is no aggregate distance: one component out of tolerance fails the
// whole comparison.
func AllClose(goal, actual []float64, tolerance float64) bool {
	if len(goal) != len(actual) {
		return false
	}
	return floats.EqualFunc(goal, actual, func(g, a float64) bool {
		return scalar.EqualWithinAbs(g, a, tolerance)
	})
}

// PoseClose compares two poses component by component (x, y, z, qx, qy, qz, qw).
func PoseClose(goal, actual Pose, tolerance float64) bool {
	return AllClose(goal.Components(), actual.Components(), tolerance)
}

// JointsClose compares two joint configurations component by component.
func JointsClose(goal, actual JointConfiguration, tolerance float64) bool {
	return AllClose(goal, actual, tolerance)
}

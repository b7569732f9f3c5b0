// Package geom holds the pose, orientation and joint-space types shared by
// the tracker, the scene sync and the motion layer.
//
// Positions are metres in a named reference frame; orientations are unit
// quaternions (gonum quat.Number with Real as w). Conversions to and from
// roll/pitch/yaw use the static-axis XYZ convention of the arm's planner.
package geom

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrZeroQuaternion is returned when an orientation cannot be normalised.
var ErrZeroQuaternion = errors.New("orientation quaternion has zero norm")

// normTolerance is how far from unit length an orientation may drift before
// Valid reports it as unusable for a goal.
const normTolerance = 1e-6

// Pose is a position plus orientation.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
}

// Identity returns the unit orientation.
func Identity() quat.Number {
	return quat.Number{Real: 1}
}

// NewPose builds a pose with a normalised orientation.
func NewPose(x, y, z float64, q quat.Number) (Pose, error) {
	n, err := Normalize(q)
	if err != nil {
		return Pose{}, err
	}
	return Pose{Position: r3.Vec{X: x, Y: y, Z: z}, Orientation: n}, nil
}

// PoseAt returns a pose at (x, y, z) with the identity orientation.
func PoseAt(x, y, z float64) Pose {
	return Pose{Position: r3.Vec{X: x, Y: y, Z: z}, Orientation: Identity()}
}

// PoseFromRPY returns a pose at (x, y, z) oriented by roll, pitch, yaw (radians).
func PoseFromRPY(x, y, z, roll, pitch, yaw float64) Pose {
	return Pose{Position: r3.Vec{X: x, Y: y, Z: z}, Orientation: FromRPY(roll, pitch, yaw)}
}

// Normalize scales q to unit length.
func Normalize(q quat.Number) (quat.Number, error) {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{}, ErrZeroQuaternion
	}
	return quat.Scale(1/n, q), nil
}

// Valid reports whether the pose carries a finite position and a unit
// orientation. The zero Pose is not valid.
func (p Pose) Valid() bool {
	for _, v := range []float64{p.Position.X, p.Position.Y, p.Position.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return math.Abs(quat.Abs(p.Orientation)-1) <= normTolerance
}

// WithPosition returns a copy of p moved to pos, keeping the orientation.
func (p Pose) WithPosition(pos r3.Vec) Pose {
	p.Position = pos
	return p
}

// Translate returns a copy of p shifted by d.
func (p Pose) Translate(d r3.Vec) Pose {
	p.Position = r3.Add(p.Position, d)
	return p
}

// Components flattens the pose as x, y, z, qx, qy, qz, qw.
func (p Pose) Components() []float64 {
	q := p.Orientation
	return []float64{p.Position.X, p.Position.Y, p.Position.Z, q.Imag, q.Jmag, q.Kmag, q.Real}
}

// RPY returns the roll, pitch and yaw of the pose orientation.
func (p Pose) RPY() (roll, pitch, yaw float64) {
	return ToRPY(p.Orientation)
}

func (p Pose) String() string {
	q := p.Orientation
	return fmt.Sprintf("pos=(%.3f, %.3f, %.3f) quat=(%.3f, %.3f, %.3f, %.3f)",
		p.Position.X, p.Position.Y, p.Position.Z, q.Imag, q.Jmag, q.Kmag, q.Real)
}

// FromRPY converts static-axis roll, pitch, yaw (radians) to a unit quaternion.
func FromRPY(roll, pitch, yaw float64) quat.Number {
	sr, cr := math.Sincos(roll / 2)
	sp, cp := math.Sincos(pitch / 2)
	sy, cy := math.Sincos(yaw / 2)
	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// ToRPY is the inverse of FromRPY. Pitch is clamped to ±π/2 at the singularity.
func ToRPY(q quat.Number) (roll, pitch, yaw float64) {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	s := 2 * (w*y - z*x)
	switch {
	case s >= 1:
		pitch = math.Pi / 2
	case s <= -1:
		pitch = -math.Pi / 2
	default:
		pitch = math.Asin(s)
	}
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}

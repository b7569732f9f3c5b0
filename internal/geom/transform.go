package geom

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// ErrInvalidTransform is returned for matrices that are not proper rigid transforms.
var ErrInvalidTransform = errors.New("invalid transform matrix (not proper rigid transform)")

// Transform is a rigid transform taking coordinates expressed in a child
// frame into its parent frame: p_parent = R·p_child + T.
type Transform struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// IdentityTransform returns the no-op transform.
func IdentityTransform() Transform {
	return Transform{Rotation: Identity()}
}

// TransformFromPose interprets a pose of the child origin in the parent frame
// as the child→parent transform.
func TransformFromPose(p Pose) Transform {
	return Transform{Rotation: p.Orientation, Translation: p.Position}
}

// ApplyPoint maps a point from the child frame into the parent frame.
func (t Transform) ApplyPoint(p r3.Vec) r3.Vec {
	return r3.Add(r3.Rotation(t.Rotation).Rotate(p), t.Translation)
}

// Apply maps a pose from the child frame into the parent frame. The result
// orientation is renormalised to absorb floating point drift.
func (t Transform) Apply(p Pose) Pose {
	q := quat.Mul(t.Rotation, p.Orientation)
	if n, err := Normalize(q); err == nil {
		q = n
	}
	return Pose{Position: t.ApplyPoint(p.Position), Orientation: q}
}

// Compose returns the transform equivalent to applying u first, then t.
func (t Transform) Compose(u Transform) Transform {
	return Transform{
		Rotation:    quat.Mul(t.Rotation, u.Rotation),
		Translation: t.ApplyPoint(u.Translation),
	}
}

// Inverse returns the parent→child transform.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	return Transform{
		Rotation:    inv,
		Translation: r3.Scale(-1, r3.Rotation(inv).Rotate(t.Translation)),
	}
}

// Matrix returns the transform as a 4×4 row-major homogeneous matrix.
func (t Transform) Matrix() [16]float64 {
	w, x, y, z := t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag
	return [16]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), t.Translation.X,
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), t.Translation.Y,
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), t.Translation.Z,
		0, 0, 0, 1,
	}
}

// IsValidTransformMatrix checks if a 4x4 row-major matrix is a rigid transform:
// rotation block with det ≈ 1 and a last row of [0 0 0 1].
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}
	return T[12] == 0 && T[13] == 0 && T[14] == 0 && math.Abs(T[15]-1.0) <= 0.001
}

// TransformFromMatrix converts a validated 4×4 row-major matrix.
func TransformFromMatrix(T [16]float64) (Transform, error) {
	if !IsValidTransformMatrix(T) {
		return Transform{}, ErrInvalidTransform
	}
	m00, m01, m02 := T[0], T[1], T[2]
	m10, m11, m12 := T[4], T[5], T[6]
	m20, m21, m22 := T[8], T[9], T[10]

	var q quat.Number
	switch trace := m00 + m11 + m22; {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	q, err := Normalize(q)
	if err != nil {
		return Transform{}, err
	}
	return Transform{Rotation: q, Translation: r3.Vec{X: T[3], Y: T[7], Z: T[11]}}, nil
}

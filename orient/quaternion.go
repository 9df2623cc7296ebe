// Package orient holds the rotational geometry used to point inter-satellite
// antennas: quaternions, the per-platform orbital frame and the fixed mounting
// transform of each antenna.
package orient

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// collinearTol bounds |a x b| for unit a, b below which two directions are
// treated as collinear.
const collinearTol = 1e-12

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged.
func Normalize(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/n, v)
}

// Quaternion is a rotation quaternion (W is the scalar part). Rotations
// assume unit norm; callers normalize axes before construction.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity returns the rotation that leaves every vector unchanged.
func Identity() Quaternion { return Quaternion{W: 1} }

// FromRotation returns the rotation by angle radians about axis. The axis is
// normalized; a zero axis yields a quaternion with a zero vector part.
func FromRotation(axis r3.Vec, angle float64) Quaternion {
	n := Normalize(axis)
	s, c := math.Sincos(angle / 2)
	return Quaternion{W: c, X: n.X * s, Y: n.Y * s, Z: n.Z * s}
}

// FromAngles composes roll (about X), pitch (about Y) and yaw (about Z), all in
// radians, into one rotation.
func FromAngles(roll, pitch, yaw float64) Quaternion {
	sr, cr := math.Sincos(roll / 2)
	sp, cp := math.Sincos(pitch / 2)
	sy, cy := math.Sincos(yaw / 2)
	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// Between returns the shortest rotation taking direction from onto direction
// to. ok is false when the two are collinear (parallel or anti-parallel) or
// either is zero, since the rotation axis is then undefined.
func Between(from, to r3.Vec) (q Quaternion, ok bool) {
	f, t := Normalize(from), Normalize(to)
	axis := r3.Cross(f, t)
	if r3.Norm(axis) < collinearTol {
		return Identity(), false
	}
	cos := math.Max(-1, math.Min(1, r3.Dot(f, t)))
	return FromRotation(axis, math.Acos(cos)), true
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromNumber(n quat.Number) Quaternion {
	return Quaternion{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

// Norm returns the quaternion magnitude.
func (q Quaternion) Norm() float64 { return quat.Abs(q.number()) }

// Inverse negates the vector part. It is the inverse rotation only for unit
// quaternions.
func (q Quaternion) Inverse() Quaternion {
	return fromNumber(quat.Conj(q.number()))
}

// Mul returns the Hamilton product q*r, i.e. the rotation r followed by q.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return fromNumber(quat.Mul(q.number(), r.number()))
}

// Rotate applies the rotation to v (q v q⁻¹).
func (q Quaternion) Rotate(v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	qn := q.number()
	out := quat.Mul(quat.Mul(qn, p), quat.Conj(qn))
	return r3.Vec{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

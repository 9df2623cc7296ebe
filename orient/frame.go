package orient

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrZeroVelocity is returned by OrbitalFrame.Update when the velocity has no
// length; the orbit normal is undefined in that case.
var ErrZeroVelocity = errors.New("orient: orbital frame update with zero velocity")

var (
	axisX = r3.Vec{X: 1}
	axisZ = r3.Vec{Z: 1}
)

// OrbitalFrame is the local radial/tangential/normal frame of one platform.
// It is recomputed on every position update and shared by pointer among all
// terminals mounted on the platform.
//
// After ToLocalSpace, +X is the tangential axis, +Y the orbit normal and +Z
// the radial axis.
type OrbitalFrame struct {
	radial     r3.Vec
	normal     r3.Vec
	tangential r3.Vec
	origin     r3.Vec

	toWorld1 Quaternion
	toWorld2 Quaternion

	updated bool
}

// Update rebuilds the frame from the platform's world position and velocity.
func (f *OrbitalFrame) Update(pos, vel r3.Vec) error {
	if r3.Norm(vel) == 0 {
		return ErrZeroVelocity
	}

	if pos == (r3.Vec{}) {
		f.radial = axisZ
	} else {
		f.radial = Normalize(pos)
	}
	f.normal = Normalize(r3.Cross(pos, vel))
	f.tangential = Normalize(r3.Cross(f.normal, f.radial))
	f.origin = pos

	q, ok := Between(f.radial, axisZ)
	switch {
	case ok:
		f.toWorld1 = q
		f.toWorld2 = align(q.Rotate(f.tangential), axisX, axisZ)
	case r3.Dot(f.radial, axisZ) > 0:
		// radial already on +Z; only the spin about it is left.
		f.toWorld1 = align(f.tangential, axisX, axisZ)
		f.toWorld2 = Identity()
	default:
		// radial on -Z: a half turn about the tangential axis flips it.
		pivot := f.tangential
		if pivot == (r3.Vec{}) {
			pivot = axisX
		}
		f.toWorld1 = FromRotation(pivot, math.Pi)
		f.toWorld2 = align(f.tangential, axisX, axisZ)
	}
	f.updated = true
	return nil
}

// align returns the rotation from onto to, falling back to identity when the
// two already agree and to a half turn about pivot when they are opposite.
func align(from, to, pivot r3.Vec) Quaternion {
	if q, ok := Between(from, to); ok {
		return q
	}
	if r3.Dot(from, to) >= 0 {
		return Identity()
	}
	return FromRotation(pivot, math.Pi)
}

// ToLocalSpace maps a world position into frame-local coordinates.
func (f *OrbitalFrame) ToLocalSpace(world r3.Vec) r3.Vec {
	v := r3.Sub(world, f.origin)
	for _, q := range [...]Quaternion{f.toWorld1, f.toWorld2} {
		if q.Norm() == 0 {
			continue
		}
		v = q.Rotate(v)
	}
	return v
}

// Updated reports whether Update has succeeded at least once.
func (f *OrbitalFrame) Updated() bool { return f.updated }

func (f *OrbitalFrame) Radial() r3.Vec     { return f.radial }
func (f *OrbitalFrame) Normal() r3.Vec     { return f.normal }
func (f *OrbitalFrame) Tangential() r3.Vec { return f.tangential }
func (f *OrbitalFrame) Origin() r3.Vec     { return f.origin }

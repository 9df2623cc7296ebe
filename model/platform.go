package model

import "gonum.org/v1/gonum/spatial/r3"

// MotionSource indicates how a platform's motion is determined.
type MotionSource int

const (
	MotionSourceUnknown    MotionSource = iota
	MotionSourceStatic                  // fixed position
	MotionSourceLinear                  // constant velocity from Coordinates
	MotionSourceSpacetrack              // TLE-based orbit propagation
)

func (m MotionSource) String() string {
	switch m {
	case MotionSourceStatic:
		return "static"
	case MotionSourceLinear:
		return "linear"
	case MotionSourceSpacetrack:
		return "tle"
	default:
		return "unknown"
	}
}

// Motion is a vector in ECI metres (or metres per second for velocities).
type Motion struct {
	X float64
	Y float64
	Z float64
}

func (m Motion) Vec() r3.Vec { return r3.Vec{X: m.X, Y: m.Y, Z: m.Z} }

// PlatformDefinition represents one satellite. SatID is unique across the
// simulation; OrbitID and ConstellationID group satellites for lookups.
type PlatformDefinition struct {
	ID   string
	Name string
	Type string // e.g. "SATELLITE"

	SatID           uint32
	OrbitID         uint32
	ConstellationID uint32

	MotionSource MotionSource
	Coordinates  Motion // initial position for static/linear motion
	Velocity     Motion // for linear motion

	// TLE lines for MotionSourceSpacetrack.
	TLELine1 string
	TLELine2 string
	NoradID  uint32
}

// Package mobility supplies platform positions and velocities at the current
// simulation time. Positions are metres and velocities metres per second in
// an Earth-centred inertial frame.
package mobility

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/isl-simulator/timectrl"
)

// Model reports where a platform is now. Implementations read the current
// simulation time from their own clock; callers never mutate them.
type Model interface {
	Position() r3.Vec
	Velocity() r3.Vec
}

// Distance returns the straight-line distance between two platforms.
func Distance(a, b Model) float64 {
	return r3.Norm(r3.Sub(a.Position(), b.Position()))
}

// Static is a platform that never moves.
type Static struct {
	Pos r3.Vec
}

func (s *Static) Position() r3.Vec { return s.Pos }
func (s *Static) Velocity() r3.Vec { return r3.Vec{} }

// ConstantVelocity moves in a straight line from Origin, which it occupied at
// Epoch.
type ConstantVelocity struct {
	Clock  timectrl.SimClock
	Epoch  time.Time
	Origin r3.Vec
	Vel    r3.Vec
}

// NewConstantVelocity starts the platform at pos at the clock's current time.
func NewConstantVelocity(clock timectrl.SimClock, pos, vel r3.Vec) *ConstantVelocity {
	return &ConstantVelocity{Clock: clock, Epoch: clock.Now(), Origin: pos, Vel: vel}
}

func (m *ConstantVelocity) Position() r3.Vec {
	dt := m.Clock.Now().Sub(m.Epoch).Seconds()
	return r3.Add(m.Origin, r3.Scale(dt, m.Vel))
}

func (m *ConstantVelocity) Velocity() r3.Vec { return m.Vel }

// Package randvar provides reproducible random variables backed by named
// rngstream streams.
package randvar

import (
	"math"

	"github.com/iti/rngstream"
)

// Uniform draws from [Min, Max).
type Uniform struct {
	Min, Max float64
	stream   *rngstream.RngStream
}

// NewUniform returns a uniform variable on its own named stream.
func NewUniform(name string, min, max float64) *Uniform {
	return &Uniform{Min: min, Max: max, stream: rngstream.New(name)}
}

func (u *Uniform) Sample() float64 {
	return u.Min + (u.Max-u.Min)*u.stream.RandU01()
}

// Normal draws from N(Mean, StdDev²) using the Box-Muller transform.
type Normal struct {
	Mean, StdDev float64
	stream       *rngstream.RngStream

	spare    float64
	hasSpare bool
}

// NewNormal returns a normal variable on its own named stream.
func NewNormal(name string, mean, stddev float64) *Normal {
	return &Normal{Mean: mean, StdDev: stddev, stream: rngstream.New(name)}
}

func (n *Normal) Sample() float64 {
	if n.hasSpare {
		n.hasSpare = false
		return n.Mean + n.StdDev*n.spare
	}
	u1 := n.stream.RandU01()
	for u1 == 0 {
		u1 = n.stream.RandU01()
	}
	u2 := n.stream.RandU01()
	r := math.Sqrt(-2 * math.Log(u1))
	s, c := math.Sincos(2 * math.Pi * u2)
	n.spare = r * s
	n.hasSpare = true
	return n.Mean + n.StdDev*r*c
}

// Constant always returns Value.
type Constant struct {
	Value float64
}

func (c Constant) Sample() float64 { return c.Value }

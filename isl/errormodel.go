package isl

import (
	"fmt"
	"math"
)

// ErrorModel decides whether a received packet is corrupted.
type ErrorModel interface {
	IsCorrupt(p *Packet) bool
}

// Sampler supplies uniform samples in [0,1).
type Sampler interface {
	Sample() float64
}

// ErrorUnit is the unit a RateErrorModel's rate applies to.
type ErrorUnit int

const (
	PerPacket ErrorUnit = iota
	PerByte
	PerBit
)

// RateErrorModel corrupts packets with a fixed per-unit error rate.
type RateErrorModel struct {
	Rate float64
	Unit ErrorUnit
	RNG  Sampler
}

// NewRateErrorModel validates rate and returns the model.
func NewRateErrorModel(rate float64, unit ErrorUnit, rng Sampler) (*RateErrorModel, error) {
	if !(rate >= 0 && rate <= 1) {
		return nil, fmt.Errorf("isl: error rate %v outside [0,1]", rate)
	}
	if rng == nil {
		return nil, fmt.Errorf("isl: error model needs a random source")
	}
	return &RateErrorModel{Rate: rate, Unit: unit, RNG: rng}, nil
}

func (m *RateErrorModel) IsCorrupt(p *Packet) bool {
	if m.Rate <= 0 {
		return false
	}
	var units float64
	switch m.Unit {
	case PerByte:
		units = float64(p.Len())
	case PerBit:
		units = 8 * float64(p.Len())
	default:
		units = 1
	}
	// probability that at least one unit is in error
	perr := 1 - math.Pow(1-m.Rate, units)
	return m.RNG.Sample() < perr
}

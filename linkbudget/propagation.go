package linkbudget

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/isl-simulator/mobility"
)

const (
	SpeedOfLight = 299792458.0 // m/s

	// EarthRadiusM is the mean Earth radius used for occlusion checks.
	EarthRadiusM = 6371e3
)

// PropagationLossModel returns the power received at rx, in dBm, when tx
// transmits txPowerDbm.
type PropagationLossModel interface {
	CalcRxPower(txPowerDbm float64, tx, rx mobility.Model) float64
}

// PropagationDelayModel returns the one-way propagation delay between two
// platforms.
type PropagationDelayModel interface {
	Delay(tx, rx mobility.Model) time.Duration
}

// FreeSpaceLossDb is the free-space path loss for a distance in km and a
// frequency in GHz.
func FreeSpaceLossDb(distanceKm, frequencyGHz float64) float64 {
	return 92.45 + 20*math.Log10(distanceKm) + 20*math.Log10(frequencyGHz)
}

// Friis is free-space propagation at a single carrier frequency.
type Friis struct {
	FrequencyHz  float64
	SystemLossDb float64 // additional fixed loss, >= 0
	MinLossDb    float64 // loss applied inside the near field
}

// NewFriis returns a Friis model at the given carrier.
func NewFriis(frequencyHz float64) *Friis {
	return &Friis{FrequencyHz: frequencyHz}
}

func (f *Friis) CalcRxPower(txPowerDbm float64, tx, rx mobility.Model) float64 {
	d := mobility.Distance(tx, rx)
	lambda := SpeedOfLight / f.FrequencyHz
	if d <= 3*lambda {
		return txPowerDbm - f.MinLossDb
	}
	return txPowerDbm - FreeSpaceLossDb(d/1000, f.FrequencyHz/1e9) - f.SystemLossDb
}

// Occluded blocks links whose line of sight passes through the Earth (grown
// by MarginM) or that exceed MaxRangeM, and otherwise defers to Inner.
type Occluded struct {
	Inner     PropagationLossModel
	MarginM   float64 // atmosphere/grazing margin above EarthRadiusM
	MaxRangeM float64 // 0 disables the range limit
}

func (o *Occluded) CalcRxPower(txPowerDbm float64, tx, rx mobility.Model) float64 {
	p1, p2 := tx.Position(), rx.Position()
	if o.MaxRangeM > 0 && r3.Norm(r3.Sub(p2, p1)) > o.MaxRangeM {
		return math.Inf(-1)
	}
	if !HasLineOfSight(p1, p2, EarthRadiusM+o.MarginM) {
		return math.Inf(-1)
	}
	return o.Inner.CalcRxPower(txPowerDbm, tx, rx)
}

// HasLineOfSight checks whether the straight segment between p1 and p2 stays
// outside a sphere of the given radius centred on the origin.
func HasLineOfSight(p1, p2 r3.Vec, radius float64) bool {
	v := r3.Sub(p2, p1)
	a := r3.Dot(v, v)
	r2 := radius * radius
	if a == 0 {
		// Same point: visible only from outside the sphere.
		return r3.Dot(p1, p1) > r2
	}

	// Closest point on the segment to the centre; t minimises |p1 + t v|^2.
	t := -r3.Dot(p1, v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := r3.Add(p1, r3.Scale(t, v))
	return r3.Dot(closest, closest) > r2
}

// ConstantSpeed delays signals by distance over a fixed propagation speed.
type ConstantSpeed struct {
	Speed float64 // m/s; 0 means the speed of light
}

func (c ConstantSpeed) Delay(tx, rx mobility.Model) time.Duration {
	speed := c.Speed
	if speed <= 0 {
		speed = SpeedOfLight
	}
	secs := mobility.Distance(tx, rx) / speed
	return time.Duration(math.Round(secs * float64(time.Second)))
}

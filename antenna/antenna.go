// Package antenna models the directional gain of an inter-satellite antenna.
package antenna

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Pattern selects the radiation pattern of an antenna.
type Pattern int

const (
	Cosine Pattern = iota
	// Bessel is accepted in configuration but not yet modelled: it
	// contributes no pattern loss, like Constant.
	Bessel
	Constant
)

func (p Pattern) String() string {
	switch p {
	case Cosine:
		return "cosine"
	case Bessel:
		return "bessel"
	case Constant:
		return "constant"
	default:
		return fmt.Sprintf("pattern(%d)", int(p))
	}
}

// Implemented reports whether the pattern has its own gain law.
func (p Pattern) Implemented() bool { return p != Bessel }

// ParsePattern maps a configuration name onto a Pattern.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "bessel":
		return Bessel, nil
	case "constant":
		return Constant, nil
	default:
		return 0, fmt.Errorf("antenna: unknown pattern %q", s)
	}
}

// factor is the linear pattern gain relative to peak at the given off-axis
// azimuth. Callers have already applied the aperture cutoff.
func (p Pattern) factor(azimuth float64) float64 {
	switch p {
	case Cosine:
		return math.Cos(math.Abs(azimuth))
	default:
		return 1
	}
}

// RandomVariable supplies samples on demand.
type RandomVariable interface {
	Sample() float64
}

// Defaults applied by configuration layers when a field is left unset.
const (
	DefaultOpeningDeg  = 180.0
	DefaultPeakGainDbi = 0.0
)

var (
	ErrNegativeGain   = errors.New("antenna: peak gain must be >= 0 dBi")
	ErrOpeningAngle   = errors.New("antenna: opening angle must be within [0, 360] degrees")
	ErrUnknownPattern = errors.New("antenna: unknown pattern")
)

// Model is the gain model of one antenna type. A Model is shared by every
// terminal that mounts that antenna type and is not mutated after
// construction.
type Model struct {
	Pattern         Pattern
	PeakGainDbi     float64
	HalfApertureRad float64

	// PointingError, when set, is sampled in degrees and multiplied by
	// PointingErrorScale to model boresight jitter.
	PointingError      RandomVariable
	PointingErrorScale float64
}

// NewModel validates the parameters and returns a Model whose half aperture
// is half of openingDeg.
func NewModel(pattern Pattern, peakGainDbi, openingDeg float64) (*Model, error) {
	if pattern < Cosine || pattern > Constant {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPattern, int(pattern))
	}
	if !(peakGainDbi >= 0) || math.IsInf(peakGainDbi, 1) {
		return nil, fmt.Errorf("%w: %v", ErrNegativeGain, peakGainDbi)
	}
	if !(openingDeg >= 0 && openingDeg <= 360) {
		return nil, fmt.Errorf("%w: %v", ErrOpeningAngle, openingDeg)
	}
	return &Model{
		Pattern:            pattern,
		PeakGainDbi:        peakGainDbi,
		HalfApertureRad:    openingDeg / 2 * math.Pi / 180,
		PointingErrorScale: 1,
	}, nil
}

// GainDb returns the antenna gain towards (azimuth, inclination), both in
// radians. Targets outside the aperture get -Inf: the antenna cannot see them.
func (m *Model) GainDb(azimuth, inclination float64) float64 {
	if math.Abs(azimuth) > m.HalfApertureRad {
		return math.Inf(-1)
	}
	f := m.Pattern.factor(azimuth)
	if f <= 0 {
		// cosine lobe has no back lobe for apertures wider than 180°
		return math.Inf(-1)
	}
	return 10*math.Log10(f) + m.PeakGainDbi
}

// PointingLossDb returns the loss in dB caused by one pointing-error sample
// for an antenna with the given gain. It is zero without an error model.
func (m *Model) PointingLossDb(gainDb float64) float64 {
	if m.PointingError == nil || math.IsInf(gainDb, -1) {
		return 0
	}
	theta := m.PointingError.Sample() * m.PointingErrorScale * math.Pi / 180
	linear := math.Pow(10, gainDb/10)
	// 10*log10(exp(x)) without overflowing exp for large gains.
	return 10 * math.Log10E * linear * theta * theta
}

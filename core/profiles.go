package core

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/isl-simulator/antenna"
	"github.com/signalsfoundry/isl-simulator/internal/randvar"
	"github.com/signalsfoundry/isl-simulator/isl"
)

// Built-in interface profiles.
const (
	// ProfileSymmetric4x mounts four identical 50 dBi / 160° cosine
	// terminals looking fore, aft and to both sides.
	ProfileSymmetric4x = "symmetric-4x"
	// ProfileAsymmetric2x2 mounts narrow 50 dBi / 120° terminals fore and
	// aft and wide 30 dBi / 160° terminals to the sides.
	ProfileAsymmetric2x2 = "asymmetric-2x2"
)

// TerminalSpec is one terminal of a resolved profile.
type TerminalSpec struct {
	Name                      string
	RollDeg, PitchDeg, YawDeg float64
	Mode                      isl.Mode
	Antenna                   *antenna.Model
}

// InterfaceProfile is the terminal layout shared by every device built from
// it. Antenna models are shared by reference.
type InterfaceProfile struct {
	Name      string
	Terminals []TerminalSpec
}

var builtinProfiles = map[string]func() InterfaceProfile{
	ProfileSymmetric4x: func() InterfaceProfile {
		ant := mustAntenna(antenna.Cosine, 50, 160)
		return fourWay(ProfileSymmetric4x, ant, ant)
	},
	ProfileAsymmetric2x2: func() InterfaceProfile {
		narrow := mustAntenna(antenna.Cosine, 50, 120)
		wide := mustAntenna(antenna.Cosine, 30, 160)
		return fourWay(ProfileAsymmetric2x2, narrow, wide)
	},
}

// fourWay lays out terminals at yaw 0, 90, 180 and -90 degrees.
func fourWay(name string, foreAft, sides *antenna.Model) InterfaceProfile {
	return InterfaceProfile{
		Name: name,
		Terminals: []TerminalSpec{
			{Name: "fore", YawDeg: 0, Antenna: foreAft},
			{Name: "port", YawDeg: 90, Antenna: sides},
			{Name: "aft", YawDeg: 180, Antenna: foreAft},
			{Name: "starboard", YawDeg: -90, Antenna: sides},
		},
	}
}

func mustAntenna(p antenna.Pattern, gain, opening float64) *antenna.Model {
	m, err := antenna.NewModel(p, gain, opening)
	if err != nil {
		panic(err)
	}
	return m
}

// BuiltinProfile returns a fresh copy of a built-in profile.
func BuiltinProfile(name string) (InterfaceProfile, bool) {
	f, ok := builtinProfiles[name]
	if !ok {
		return InterfaceProfile{}, false
	}
	return f(), true
}

// buildAntennas turns antenna configs into models. Each antenna with a
// pointing error draws from its own named stream.
func buildAntennas(cfgs []AntennaConfig) (map[string]*antenna.Model, error) {
	out := make(map[string]*antenna.Model, len(cfgs))
	for _, c := range cfgs {
		pattern, err := antenna.ParsePattern(c.Pattern)
		if err != nil {
			return nil, err
		}
		m, err := antenna.NewModel(pattern, c.PeakGainDbi, c.OpeningDeg)
		if err != nil {
			return nil, fmt.Errorf("antenna %q: %w", c.Name, err)
		}
		if pe := c.PointingError; pe != nil {
			m.PointingError = pe.variable("pointing/" + c.Name)
			m.PointingErrorScale = pe.Scale
		}
		out[c.Name] = m
	}
	return out, nil
}

func (rc *RandomConfig) variable(stream string) antenna.RandomVariable {
	switch strings.ToLower(rc.Distribution) {
	case "uniform":
		return randvar.NewUniform(stream, rc.Min, rc.Max)
	case "constant":
		return randvar.Constant{Value: rc.Value}
	default:
		return randvar.NewNormal(stream, rc.Mean, rc.StdDev)
	}
}

// resolveProfiles returns every profile the scenario can refer to, keyed by
// name.
func resolveProfiles(cfgs []ProfileConfig, antennas map[string]*antenna.Model) (map[string]InterfaceProfile, error) {
	out := make(map[string]InterfaceProfile, len(builtinProfiles)+len(cfgs))
	for name := range builtinProfiles {
		p, _ := BuiltinProfile(name)
		out[name] = p
	}
	for _, pc := range cfgs {
		p := InterfaceProfile{Name: pc.Name}
		for _, tc := range pc.Terminals {
			ant, ok := antennas[tc.Antenna]
			if !ok {
				return nil, fmt.Errorf("profile %q: unknown antenna %q", pc.Name, tc.Antenna)
			}
			mode, err := isl.ParseMode(tc.Mode)
			if err != nil {
				return nil, fmt.Errorf("profile %q: %w", pc.Name, err)
			}
			p.Terminals = append(p.Terminals, TerminalSpec{
				Name:     tc.Name,
				RollDeg:  tc.RollDeg,
				PitchDeg: tc.PitchDeg,
				YawDeg:   tc.YawDeg,
				Mode:     mode,
				Antenna:  ant,
			})
		}
		out[pc.Name] = p
	}
	return out, nil
}

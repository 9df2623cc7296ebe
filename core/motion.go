package core

import (
	"fmt"

	"github.com/signalsfoundry/isl-simulator/mobility"
	"github.com/signalsfoundry/isl-simulator/model"
	"github.com/signalsfoundry/isl-simulator/timectrl"
)

// NewMotionModel chooses the mobility model for a platform definition:
// SGP4 for TLE platforms, straight-line motion for linear ones and a fixed
// position otherwise.
func NewMotionModel(p model.PlatformDefinition, clock timectrl.SimClock) (mobility.Model, error) {
	switch p.MotionSource {
	case model.MotionSourceSpacetrack:
		m, err := mobility.NewSGP4(p.TLELine1, p.TLELine2, clock)
		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", p.ID, err)
		}
		return m, nil
	case model.MotionSourceLinear:
		return mobility.NewConstantVelocity(clock, p.Coordinates.Vec(), p.Velocity.Vec()), nil
	default:
		return &mobility.Static{Pos: p.Coordinates.Vec()}, nil
	}
}

// platformDefinitions expands the constellation config into platform
// definitions ordered as configured: Walker slots first, then explicit
// platforms. profiles maps each platform ID to its profile override.
func platformDefinitions(k ConstellationConfig) (defs []model.PlatformDefinition, profiles map[string]string, err error) {
	profiles = make(map[string]string)
	if w := k.Walker; w != nil {
		walker := mobility.Walker{
			Name:           w.Name,
			Planes:         w.Planes,
			SatsPerPlane:   w.SatsPerPlane,
			Phasing:        w.Phasing,
			InclinationDeg: w.InclinationDeg,
			AltitudeKm:     w.AltitudeKm,
			MeanMotion:     w.MeanMotion,
			RAANSpreadDeg:  w.RAANSpreadDeg,
			RAANShiftDeg:   w.RAANShiftDeg,
			Epoch:          w.Epoch,
			FirstCatalog:   int(w.FirstSatID) + 1,
		}
		slots, err := walker.Slots()
		if err != nil {
			return nil, nil, fmt.Errorf("walker %q: %w", w.Name, err)
		}
		for i, slot := range slots {
			line1, line2 := slot.Elements.TLE()
			def := model.PlatformDefinition{
				ID:              fmt.Sprintf("%s-%d-%d", w.Name, slot.Plane, slot.Index),
				Name:            fmt.Sprintf("%s plane %d slot %d", w.Name, slot.Plane, slot.Index),
				Type:            "SATELLITE",
				SatID:           w.FirstSatID + uint32(i),
				OrbitID:         uint32(slot.Plane),
				ConstellationID: w.ConstellationID,
				MotionSource:    model.MotionSourceSpacetrack,
				TLELine1:        line1,
				TLELine2:        line2,
				NoradID:         uint32(slot.Elements.CatalogNumber),
			}
			defs = append(defs, def)
			if w.Profile != "" {
				profiles[def.ID] = w.Profile
			}
		}
	}

	for _, p := range k.Platforms {
		def := model.PlatformDefinition{
			ID:              p.ID,
			Name:            p.Name,
			Type:            "SATELLITE",
			SatID:           p.SatID,
			OrbitID:         p.OrbitID,
			ConstellationID: p.ConstellationID,
		}
		switch {
		case p.TLELine1 != "":
			def.MotionSource = model.MotionSourceSpacetrack
			def.TLELine1, def.TLELine2 = p.TLELine1, p.TLELine2
		case p.Velocity != nil:
			def.MotionSource = model.MotionSourceLinear
			def.Coordinates, def.Velocity = *p.Position, *p.Velocity
		default:
			def.MotionSource = model.MotionSourceStatic
			def.Coordinates = *p.Position
		}
		defs = append(defs, def)
		if p.Profile != "" {
			profiles[def.ID] = p.Profile
		}
	}
	return defs, profiles, nil
}

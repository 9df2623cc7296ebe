package isl

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/isl-simulator/antenna"
	"github.com/signalsfoundry/isl-simulator/orient"
)

// Mode restricts what a terminal may be used for.
type Mode int

const (
	RxTx Mode = iota
	TxOnly
	RxOnly
)

func (m Mode) String() string {
	switch m {
	case RxTx:
		return "rxtx"
	case TxOnly:
		return "tx"
	case RxOnly:
		return "rx"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "rxtx", "tx" and "rx"; an empty string means RxTx.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rxtx":
		return RxTx, nil
	case "tx", "txonly":
		return TxOnly, nil
	case "rx", "rxonly":
		return RxOnly, nil
	}
	return 0, fmt.Errorf("isl: unknown terminal mode %q", s)
}

func (m Mode) CanTransmit() bool { return m != RxOnly }
func (m Mode) CanReceive() bool  { return m != TxOnly }

var (
	ErrNoAntenna = errors.New("isl: terminal has no antenna model")
	ErrNoFrame   = errors.New("isl: terminal has no orbital frame")
)

// Terminal is one antenna mounted on a platform. The antenna model and the
// orbital frame are shared with other terminals; the frame belongs to the
// platform and is updated by whoever moves it.
type Terminal struct {
	name      string
	transform orient.Transform
	antenna   *antenna.Model
	frame     *orient.OrbitalFrame
	mode      Mode
}

// NewTerminal mounts ant on the platform owning frame with the given
// orientation.
func NewTerminal(name string, transform orient.Transform, ant *antenna.Model, frame *orient.OrbitalFrame, mode Mode) (*Terminal, error) {
	if ant == nil {
		return nil, ErrNoAntenna
	}
	if frame == nil {
		return nil, ErrNoFrame
	}
	return &Terminal{name: name, transform: transform, antenna: ant, frame: frame, mode: mode}, nil
}

func (t *Terminal) Name() string                { return t.name }
func (t *Terminal) Mode() Mode                  { return t.mode }
func (t *Terminal) Antenna() *antenna.Model     { return t.antenna }
func (t *Terminal) Transform() orient.Transform { return t.transform }
func (t *Terminal) Frame() *orient.OrbitalFrame { return t.frame }

// RelativeAngles returns the azimuth and inclination, in radians, of a
// world-space target as seen from this terminal's boresight (+X). Azimuth is
// measured in the boresight XY plane, inclination above it. The platform frame
// must be current; it is read on every call.
func (t *Terminal) RelativeAngles(target r3.Vec) (azimuth, inclination float64) {
	local := t.frame.ToLocalSpace(target)
	v := t.transform.TransformVector(local)
	azimuth = math.Atan2(v.Y, v.X)
	inclination = math.Atan2(v.Z, math.Hypot(v.X, v.Y))
	return azimuth, inclination
}

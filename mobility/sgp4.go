package mobility

import (
	"fmt"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/isl-simulator/timectrl"
)

const kmToM = 1000.0

// SGP4 propagates a two-line element set with SGP4 at the clock's current
// time. go-satellite resolves whole seconds; the fractional part is covered by
// a linear step along the propagated velocity.
type SGP4 struct {
	clock timectrl.SimClock
	sat   satellite.Satellite

	mu       sync.Mutex
	cachedAt time.Time
	pos, vel r3.Vec
	cached   bool
}

// NewSGP4 parses the element set. Lines must be full 69-column TLE lines.
func NewSGP4(line1, line2 string, clock timectrl.SimClock) (*SGP4, error) {
	if err := checkTLELine(line1, '1'); err != nil {
		return nil, err
	}
	if err := checkTLELine(line2, '2'); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &SGP4{clock: clock, sat: sat}, nil
}

func checkTLELine(line string, want byte) error {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 69 {
		return fmt.Errorf("mobility: TLE line %c too short (%d columns)", want, len(line))
	}
	if line[0] != want || line[1] != ' ' {
		return fmt.Errorf("mobility: TLE line %c has unexpected prefix %q", want, line[:2])
	}
	return nil
}

func (m *SGP4) Position() r3.Vec {
	pos, _ := m.state()
	return pos
}

func (m *SGP4) Velocity() r3.Vec {
	_, vel := m.state()
	return vel
}

func (m *SGP4) state() (r3.Vec, r3.Vec) {
	now := m.clock.Now().UTC()
	whole := now.Truncate(time.Second)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cached || !m.cachedAt.Equal(whole) {
		m.pos, m.vel = propagate(m.sat, whole)
		m.cachedAt = whole
		m.cached = true
	}
	frac := now.Sub(whole).Seconds()
	return r3.Add(m.pos, r3.Scale(frac, m.vel)), m.vel
}

func propagate(sat satellite.Satellite, t time.Time) (pos, vel r3.Vec) {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	p, v := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	return r3.Vec{X: p.X * kmToM, Y: p.Y * kmToM, Z: p.Z * kmToM},
		r3.Vec{X: v.X * kmToM, Y: v.Y * kmToM, Z: v.Z * kmToM}
}

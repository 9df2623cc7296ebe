package mobility

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// WGS72 constants, matching the gravity model used for propagation.
const (
	earthRadiusKmWGS72 = 6378.135
	muKm3s2WGS72       = 398600.8
)

// DefaultEpoch is the element-set epoch used when a constellation does not
// name one (2023, day 79.89166667).
var DefaultEpoch = time.Date(2023, time.March, 20, 21, 24, 0, 0, time.UTC)

// MeanMotionFromAltitude returns the circular-orbit mean motion in
// revolutions per day for an altitude above the equatorial radius.
func MeanMotionFromAltitude(altitudeKm float64) float64 {
	a := earthRadiusKmWGS72 + altitudeKm
	n := math.Sqrt(muKm3s2WGS72 / (a * a * a)) // rad/s
	return n * 86400 / (2 * math.Pi)
}

// Elements are the mean orbital elements written into a TLE.
type Elements struct {
	CatalogNumber  int
	Designator     string // international designator, at most 8 characters
	Epoch          time.Time
	InclinationDeg float64
	RAANDeg        float64
	Eccentricity   float64
	ArgPerigeeDeg  float64
	MeanAnomalyDeg float64
	MeanMotion     float64 // revolutions per day
}

// TLE formats the elements as a pair of fixed-column TLE lines with zero drag
// terms and valid checksums.
func (e Elements) TLE() (line1, line2 string) {
	epoch := e.Epoch.UTC()
	dayStart := time.Date(epoch.Year(), epoch.Month(), epoch.Day(), 0, 0, 0, 0, time.UTC)
	day := float64(epoch.YearDay()) + epoch.Sub(dayStart).Seconds()/86400

	line1 = fmt.Sprintf("1 %05dU %-8s %02d%012.8f %s %s %s 0 %4d",
		e.CatalogNumber%100000, truncate(e.Designator, 8), epoch.Year()%100, day,
		" .00000000", " 00000-0", " 00000-0", 999)
	line2 = fmt.Sprintf("2 %05d %8.4f %8.4f %07d %8.4f %8.4f %11.8f%05d",
		e.CatalogNumber%100000,
		wrap360(e.InclinationDeg), wrap360(e.RAANDeg),
		int(math.Round(e.Eccentricity*1e7)),
		wrap360(e.ArgPerigeeDeg), wrap360(e.MeanAnomalyDeg),
		e.MeanMotion, 0)
	return line1 + checksum(line1), line2 + checksum(line2)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func wrap360(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// checksum is the modulo-10 sum of all digits, counting '-' as one.
func checksum(line string) string {
	sum := 0
	for _, c := range line {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return fmt.Sprintf("%d", sum%10)
}

// Walker describes a Walker-delta constellation i:T/P/F.
type Walker struct {
	Name           string
	Planes         int
	SatsPerPlane   int
	Phasing        int     // F, in units of 360/T degrees
	InclinationDeg float64 // default 66.6
	AltitudeKm     float64 // used when MeanMotion is zero
	MeanMotion     float64 // revolutions per day
	RAANSpreadDeg  float64 // default 360
	RAANShiftDeg   float64
	Epoch          time.Time
	FirstCatalog   int
	Designator     string
}

// Slot identifies one satellite position in a constellation.
type Slot struct {
	Plane    int
	Index    int
	Elements Elements
}

var ErrEmptyConstellation = errors.New("mobility: constellation needs at least one plane and one satellite per plane")

// ApplyDefaults fills unset fields.
func (w *Walker) ApplyDefaults() {
	if w.InclinationDeg == 0 {
		w.InclinationDeg = 66.6
	}
	if w.RAANSpreadDeg == 0 {
		w.RAANSpreadDeg = 360
	}
	if w.Epoch.IsZero() {
		w.Epoch = DefaultEpoch
	}
	if w.FirstCatalog == 0 {
		w.FirstCatalog = 1
	}
	if w.Designator == "" {
		w.Designator = "23001A"
	}
	if w.MeanMotion == 0 && w.AltitudeKm == 0 {
		w.MeanMotion = 15
	}
}

// Slots lays out every satellite of the constellation: planes are spread
// evenly over RAANSpreadDeg, satellites evenly over each plane, and plane p
// is advanced by p*F*360/T degrees of mean anomaly.
func (w Walker) Slots() ([]Slot, error) {
	w.ApplyDefaults()
	if w.Planes <= 0 || w.SatsPerPlane <= 0 {
		return nil, ErrEmptyConstellation
	}
	meanMotion := w.MeanMotion
	if meanMotion == 0 {
		meanMotion = MeanMotionFromAltitude(w.AltitudeKm)
	}

	total := w.Planes * w.SatsPerPlane
	raanStep := w.RAANSpreadDeg / float64(w.Planes)
	slotStep := 360.0 / float64(w.SatsPerPlane)
	phaseStep := float64(w.Phasing) * 360.0 / float64(total)

	slots := make([]Slot, 0, total)
	for p := 0; p < w.Planes; p++ {
		for s := 0; s < w.SatsPerPlane; s++ {
			slots = append(slots, Slot{
				Plane: p,
				Index: s,
				Elements: Elements{
					CatalogNumber:  w.FirstCatalog + len(slots),
					Designator:     w.Designator,
					Epoch:          w.Epoch,
					InclinationDeg: w.InclinationDeg,
					RAANDeg:        w.RAANShiftDeg + float64(p)*raanStep,
					MeanAnomalyDeg: float64(s)*slotStep + float64(p)*phaseStep,
					MeanMotion:     meanMotion,
				},
			})
		}
	}
	return slots, nil
}

package orient

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPitch is returned when a pitch angle cannot be folded into
// [-90°, 90°] (NaN or infinite input).
var ErrInvalidPitch = errors.New("orient: pitch outside [-90, 90] after fold-back")

// WrapTo180 maps an angle in degrees into [-180, 180).
func WrapTo180(deg float64) float64 {
	a := math.Mod(deg+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}

// RollYawRadians wraps a roll or yaw angle into [-180°, 180°) and converts it
// to radians.
func RollYawRadians(deg float64) float64 {
	return WrapTo180(deg) * math.Pi / 180
}

// PitchRadians wraps a pitch angle into [-180°, 180°), reflects values past
// ±90° back into range (a > 90 becomes 180-a, a < -90 becomes -180-a) and
// converts it to radians.
func PitchRadians(deg float64) (float64, error) {
	a := WrapTo180(deg)
	switch {
	case a > 90:
		a = 180 - a
	case a < -90:
		a = -180 - a
	}
	if !(a >= -90 && a <= 90) {
		return 0, fmt.Errorf("%w: %v°", ErrInvalidPitch, deg)
	}
	return a * math.Pi / 180, nil
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

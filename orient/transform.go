package orient

import "gonum.org/v1/gonum/spatial/r3"

// Transform is the fixed roll/pitch/yaw mounting of one antenna relative to
// its platform's orbital frame. Angles are stored wrapped, in radians. The zero
// value is the identity mounting.
type Transform struct {
	roll, pitch, yaw float64
}

// NewTransform returns a Transform for the given mounting angles in degrees.
func NewTransform(rollDeg, pitchDeg, yawDeg float64) (Transform, error) {
	var t Transform
	if err := t.SetAngles(rollDeg, pitchDeg, yawDeg); err != nil {
		return Transform{}, err
	}
	return t, nil
}

// SetAngles stores roll (phi), pitch (theta) and yaw (psi), given in degrees.
// The receiver is left untouched when the pitch cannot be folded into range.
func (t *Transform) SetAngles(phiDeg, thetaDeg, psiDeg float64) error {
	pitch, err := PitchRadians(thetaDeg)
	if err != nil {
		return err
	}
	t.roll = RollYawRadians(phiDeg)
	t.pitch = pitch
	t.yaw = RollYawRadians(psiDeg)
	return nil
}

// Angles returns roll, pitch and yaw in radians.
func (t Transform) Angles() (roll, pitch, yaw float64) {
	return t.roll, t.pitch, t.yaw
}

// TransformVector rotates a frame-local vector into boresight coordinates.
func (t Transform) TransformVector(v r3.Vec) r3.Vec {
	return FromAngles(t.roll, t.pitch, t.yaw).Rotate(v)
}

// ReverseTransformVector undoes TransformVector.
func (t Transform) ReverseTransformVector(v r3.Vec) r3.Vec {
	return FromAngles(t.roll, t.pitch, t.yaw).Inverse().Rotate(v)
}

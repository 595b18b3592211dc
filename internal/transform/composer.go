// Package transform composes the alignment transform of a point cloud and
// maps points between the cloud-local frame and the panorama (world) frame.
//
// The composed transform is
//
//	T = translate(base.T + user.T) · rotate(delta ⊗ base.R) · scale(s)
//
// where delta is the user's XYZ Euler rotation. The user delta premultiplies
// the base rotation: a local vector is first rotated by the base
// calibration and then by the delta, which acts in world axes. Translation
// is a plain sum and is not rotated by either term; exported alignments
// depend on this.
package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Point size factors used as visual feedback for scale.
const (
	AuthoringPointSizeFactor = 0.05
	ViewerPointSizeFactor    = 0.03
)

// BaseTransform is an externally supplied calibration applied before the
// user's adjustments.
type BaseTransform struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// Euler holds per-axis angles in degrees.
type Euler struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Params are the authoring-time inputs of one scene's transform.
type Params struct {
	Base        *BaseTransform
	RotationDeg Euler
	Translation r3.Vec
	Scale       float64
}

// DefaultParams returns identity parameters (unit scale, no base).
func DefaultParams() Params {
	return Params{Scale: 1}
}

// Delta returns the user rotation as a quaternion.
func (p Params) Delta() quat.Number {
	return EulerXYZ(degToRad(p.RotationDeg.X), degToRad(p.RotationDeg.Y), degToRad(p.RotationDeg.Z))
}

// Rotation returns delta ⊗ base.
func (p Params) Rotation() quat.Number {
	base := quat.Number{Real: 1}
	if p.Base != nil {
		base = Normalize(p.Base.Rotation)
	}
	return quat.Mul(p.Delta(), base)
}

// Position returns base translation + user translation.
func (p Params) Position() r3.Vec {
	if p.Base == nil {
		return p.Translation
	}
	return r3.Add(p.Base.Translation, p.Translation)
}

// Validate rejects NaN and infinite inputs.
func (p Params) Validate() error {
	vals := []float64{
		p.RotationDeg.X, p.RotationDeg.Y, p.RotationDeg.Z,
		p.Translation.X, p.Translation.Y, p.Translation.Z,
		p.Scale,
	}
	if p.Base != nil {
		vals = append(vals,
			p.Base.Rotation.Real, p.Base.Rotation.Imag, p.Base.Rotation.Jmag, p.Base.Rotation.Kmag,
			p.Base.Translation.X, p.Base.Translation.Y, p.Base.Translation.Z,
		)
	}
	for _, v := range vals {
		if !isFinite(v) {
			return fmt.Errorf("%w in transform parameters", ErrNonFinite)
		}
	}
	return nil
}

// Compose returns the single transform for p.
func Compose(p Params) (Mat4, error) {
	if err := p.Validate(); err != nil {
		return Mat4{}, err
	}
	s := r3.Vec{X: p.Scale, Y: p.Scale, Z: p.Scale}
	return ComposeTRS(p.Position(), p.Rotation(), s), nil
}

// ParamsFromMatrix recovers authoring parameters that reproduce m on top of
// base. It is used to resume editing a scene restored from an export.
func ParamsFromMatrix(m Mat4, base *BaseTransform) (Params, error) {
	if err := m.Validate(); err != nil {
		return Params{}, err
	}
	t, q, s := m.Decompose()
	if s.X == 0 {
		return Params{}, ErrSingular
	}
	p := Params{Base: base, Scale: s.X}

	delta := q
	if base != nil {
		delta = quat.Mul(q, quat.Conj(Normalize(base.Rotation)))
		t = r3.Sub(t, base.Translation)
	}
	x, y, z := EulerXYZFromQuat(delta)
	p.RotationDeg = Euler{X: radToDeg(x), Y: radToDeg(y), Z: radToDeg(z)}
	p.Translation = t
	return p, nil
}

// PointSize is the authoring point size for a uniform scale.
func PointSize(scale float64) float64 {
	return scale * AuthoringPointSizeFactor
}

// ViewerPointSize is the playback point size for an exported matrix.
func ViewerPointSize(m Mat4) float64 {
	return m.UniformScale() * ViewerPointSizeFactor
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

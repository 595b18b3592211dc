package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// SingularEpsilon is the smallest |det| accepted before a matrix is treated
// as non-invertible. A uniform scale s gives det = s³, so this rejects
// scales below ~1e-4.
const SingularEpsilon = 1e-12

// AffineTolerance bounds the deviation of the bottom row from [0 0 0 1].
const AffineTolerance = 1e-6

var (
	// ErrSingular is returned when a transform cannot be inverted.
	ErrSingular = errors.New("transform: matrix is singular")
	// ErrNonFinite is returned when a parameter or matrix entry is NaN or ±Inf.
	ErrNonFinite = errors.New("transform: non-finite value")
)

// Mat4 is a 4x4 affine transform stored column-major: element (row r,
// column c) lives at index c*4+r and the translation occupies 12..14.
// This is the layout persisted in alignment and tour files.
type Mat4 [16]float64

// Identity returns the identity transform.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// At returns the element at row r, column c.
func (m Mat4) At(r, c int) float64 { return m[c*4+r] }

// FromRowMajor converts a row-major 4x4 (as produced by numpy and by the
// calibration T_*.json files) into a Mat4.
func FromRowMajor(rm [16]float64) Mat4 {
	var m Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[c*4+r] = rm[r*4+c]
		}
	}
	return m
}

// RowMajor returns the matrix entries in row-major order.
func (m Mat4) RowMajor() [16]float64 {
	var rm [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			rm[r*4+c] = m[c*4+r]
		}
	}
	return rm
}

// ComposeTRS builds the matrix for translation t, rotation q and per-axis
// scale s, applied to a point in the order scale, rotate, translate.
func ComposeTRS(t r3.Vec, q quat.Number, s r3.Vec) Mat4 {
	x, y, z, w := q.Imag, q.Jmag, q.Kmag, q.Real
	x2, y2, z2 := x+x, y+y, z+z
	xx, xy, xz := x*x2, x*y2, x*z2
	yy, yz, zz := y*y2, y*z2, z*z2
	wx, wy, wz := w*x2, w*y2, w*z2

	return Mat4{
		(1 - (yy + zz)) * s.X, (xy + wz) * s.X, (xz - wy) * s.X, 0,
		(xy - wz) * s.Y, (1 - (xx + zz)) * s.Y, (yz + wx) * s.Y, 0,
		(xz + wy) * s.Z, (yz - wx) * s.Z, (1 - (xx + yy)) * s.Z, 0,
		t.X, t.Y, t.Z, 1,
	}
}

// Mul returns a×b, i.e. the transform that applies b first and then a.
func Mul(a, b Mat4) Mat4 {
	var m Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[c*4+r] = a[0*4+r]*b[c*4+0] + a[1*4+r]*b[c*4+1] +
				a[2*4+r]*b[c*4+2] + a[3*4+r]*b[c*4+3]
		}
	}
	return m
}

// ApplyPoint transforms a position (w=1), including the projective divide.
func (m Mat4) ApplyPoint(p r3.Vec) r3.Vec {
	w := m[3]*p.X + m[7]*p.Y + m[11]*p.Z + m[15]
	if w == 0 {
		w = 1
	}
	inv := 1 / w
	return r3.Vec{
		X: (m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12]) * inv,
		Y: (m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13]) * inv,
		Z: (m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14]) * inv,
	}
}

// ApplyDirection transforms a direction (w=0); translation is ignored.
func (m Mat4) ApplyDirection(d r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*d.X + m[4]*d.Y + m[8]*d.Z,
		Y: m[1]*d.X + m[5]*d.Y + m[9]*d.Z,
		Z: m[2]*d.X + m[6]*d.Y + m[10]*d.Z,
	}
}

// Dense returns the matrix as a gonum dense matrix.
func (m Mat4) Dense() *mat.Dense {
	rm := m.RowMajor()
	return mat.NewDense(4, 4, rm[:])
}

func fromDense(d mat.Matrix) Mat4 {
	var m Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[c*4+r] = d.At(r, c)
		}
	}
	return m
}

// Determinant returns det(m).
func (m Mat4) Determinant() float64 {
	return mat.Det(m.Dense())
}

// Inverse returns m⁻¹, or ErrSingular if m is not invertible.
func (m Mat4) Inverse() (Mat4, error) {
	if !m.IsFinite() {
		return Mat4{}, ErrNonFinite
	}
	if det := m.Determinant(); math.Abs(det) < SingularEpsilon {
		return Mat4{}, fmt.Errorf("%w: det=%g", ErrSingular, det)
	}
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		return Mat4{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return fromDense(&inv), nil
}

// IsFinite reports whether every entry is a finite number.
func (m Mat4) IsFinite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate checks that m is finite and affine (bottom row [0 0 0 1]).
func (m Mat4) Validate() error {
	if !m.IsFinite() {
		return ErrNonFinite
	}
	if math.Abs(m[3]) > AffineTolerance || math.Abs(m[7]) > AffineTolerance ||
		math.Abs(m[11]) > AffineTolerance || math.Abs(m[15]-1) > AffineTolerance {
		return fmt.Errorf("transform: not affine, bottom row [%g %g %g %g]", m[3], m[7], m[11], m[15])
	}
	return nil
}

// Translation returns elements 12..14.
func (m Mat4) Translation() r3.Vec {
	return r3.Vec{X: m[12], Y: m[13], Z: m[14]}
}

// Scale returns the length of each basis column.
func (m Mat4) Scale() r3.Vec {
	sx := r3.Norm(r3.Vec{X: m[0], Y: m[1], Z: m[2]})
	sy := r3.Norm(r3.Vec{X: m[4], Y: m[5], Z: m[6]})
	sz := r3.Norm(r3.Vec{X: m[8], Y: m[9], Z: m[10]})
	if m.Determinant() < 0 {
		sx = -sx
	}
	return r3.Vec{X: sx, Y: sy, Z: sz}
}

// UniformScale returns the mean absolute axis scale.
func (m Mat4) UniformScale() float64 {
	s := m.Scale()
	return (math.Abs(s.X) + math.Abs(s.Y) + math.Abs(s.Z)) / 3
}

// Decompose splits m into translation, rotation and scale. It assumes m was
// built by ComposeTRS (no shear).
func (m Mat4) Decompose() (t r3.Vec, q quat.Number, s r3.Vec) {
	s = m.Scale()
	t = m.Translation()
	if s.X == 0 || s.Y == 0 || s.Z == 0 {
		return t, quat.Number{Real: 1}, s
	}
	var rot [9]float64 // row-major 3x3
	for r := 0; r < 3; r++ {
		rot[r*3+0] = m.At(r, 0) / s.X
		rot[r*3+1] = m.At(r, 1) / s.Y
		rot[r*3+2] = m.At(r, 2) / s.Z
	}
	return t, QuatFromRotationMatrix(rot), s
}

// ApproxEqual reports whether every entry of m and o differs by at most tol.
func (m Mat4) ApproxEqual(o Mat4, tol float64) bool {
	for i := range m {
		if !scalar.EqualWithinAbs(m[i], o[i], tol) {
			return false
		}
	}
	return true
}

// IsIdentity reports whether m is the identity within a small tolerance.
func (m Mat4) IsIdentity() bool {
	return m.ApproxEqual(Identity(), 1e-12)
}

// Rounded returns a copy with every entry rounded to places decimals.
func (m Mat4) Rounded(places int) Mat4 {
	var out Mat4
	for i, v := range m {
		out[i] = scalar.Round(v, places)
		if out[i] == 0 {
			out[i] = 0 // normalise -0
		}
	}
	return out
}

// UnmarshalJSON accepts an array of 16 entries given either as numbers or
// as numeric strings. Older alignment exports wrote "1.000000" strings.
func (m *Mat4) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	if len(raw) != 16 {
		return fmt.Errorf("matrix: expected 16 entries, got %d", len(raw))
	}
	for i, r := range raw {
		v, err := ParseNumber(r)
		if err != nil {
			return fmt.Errorf("matrix[%d]: %w", i, err)
		}
		m[i] = v
	}
	return nil
}

// ParseNumber decodes a JSON number or a numeric string. null is rejected
// rather than read as zero.
func ParseNumber(r json.RawMessage) (float64, error) {
	if strings.TrimSpace(string(r)) == "null" {
		return 0, errors.New("not a number: null")
	}
	var f float64
	if err := json.Unmarshal(r, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(r, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(r))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}

// String formats the matrix the way the alignment UI displays it.
func (m Mat4) String() string {
	parts := make([]string, len(m))
	for i, v := range m {
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return "Matrix4: " + strings.Join(parts, ", ")
}

package alignment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/transform"
)

// ErrBadBaseTransform is returned for an unrecognised calibration file.
var ErrBadBaseTransform = errors.New("alignment: unrecognised base transform")

type baseTransformFile struct {
	RotationQuaternion []float64 `json:"rotationQuaternion"`
	Translation        []float64 `json:"translation"`
}

func (f baseTransformFile) toBase() (*transform.BaseTransform, error) {
	b := &transform.BaseTransform{Rotation: quat.Number{Real: 1}}
	if f.RotationQuaternion != nil {
		if len(f.RotationQuaternion) != 4 {
			return nil, fmt.Errorf("%w: rotationQuaternion needs 4 components, got %d", ErrBadBaseTransform, len(f.RotationQuaternion))
		}
		var wxyz [4]float64
		copy(wxyz[:], f.RotationQuaternion)
		q := transform.QuatFromWXYZ(wxyz)
		if quat.Abs(q) == 0 {
			return nil, fmt.Errorf("%w: zero rotationQuaternion", ErrBadBaseTransform)
		}
		b.Rotation = transform.Normalize(q)
	}
	if f.Translation != nil {
		if len(f.Translation) != 3 {
			return nil, fmt.Errorf("%w: translation needs 3 components, got %d", ErrBadBaseTransform, len(f.Translation))
		}
		b.Translation = r3.Vec{X: f.Translation[0], Y: f.Translation[1], Z: f.Translation[2]}
	}
	p := transform.Params{Base: b, Scale: 1}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadBaseTransform parses a calibration file. Accepted forms are
// {"rotationQuaternion":[w,x,y,z],"translation":[x,y,z]}, an array of such
// objects (the first is used) and a row-major 4x4 matrix given as nested
// arrays. A matrix's scale is discarded.
func LoadBaseTransform(data []byte) (*transform.BaseTransform, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrBadBaseTransform)
	}

	switch data[0] {
	case '{':
		var f baseTransformFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadBaseTransform, err)
		}
		return f.toBase()
	case '[':
	default:
		return nil, fmt.Errorf("%w: expected object or array", ErrBadBaseTransform)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBaseTransform, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrBadBaseTransform)
	}
	first := bytes.TrimSpace(items[0])
	if len(first) > 0 && first[0] == '{' {
		var f baseTransformFile
		if err := json.Unmarshal(first, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadBaseTransform, err)
		}
		return f.toBase()
	}

	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBaseTransform, err)
	}
	return baseFromRows(rows)
}

func baseFromRows(rows [][]float64) (*transform.BaseTransform, error) {
	if len(rows) != 4 {
		return nil, fmt.Errorf("%w: expected 4x4 matrix, got %d rows", ErrBadBaseTransform, len(rows))
	}
	var rm [16]float64
	for r, row := range rows {
		if len(row) != 4 {
			return nil, fmt.Errorf("%w: row %d has %d entries", ErrBadBaseTransform, r, len(row))
		}
		copy(rm[r*4:], row)
	}
	m := transform.FromRowMajor(rm)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBaseTransform, err)
	}
	t, q, s := m.Decompose()
	if s.X == 0 || s.Y == 0 || s.Z == 0 {
		return nil, fmt.Errorf("%w: degenerate rotation", ErrBadBaseTransform)
	}
	if math.Abs(s.X-1) > 1e-3 || math.Abs(s.Y-1) > 1e-3 || math.Abs(s.Z-1) > 1e-3 {
		logf("base transform scale %v ignored", s)
	}
	return &transform.BaseTransform{Rotation: q, Translation: t}, nil
}

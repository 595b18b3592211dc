// Package pointcloud holds LiDAR point clouds as flat float32 buffers and
// the geometry operations the alignment tool and the viewer run on them:
// baking a transform, the near-origin cylinder filter, ray picking and
// PCD decoding.
package pointcloud

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/transform"
)

// ErrMalformed is returned for buffers whose lengths do not describe whole
// points.
var ErrMalformed = errors.New("pointcloud: malformed buffers")

// Cloud is a point set stored as packed x,y,z triples. Colors, when
// present, are packed r,g,b triples in [0,1] with one triple per point.
type Cloud struct {
	Positions []float32
	Colors    []float32
}

// New returns a cloud over the given buffers after checking their shape.
func New(positions, colors []float32) (*Cloud, error) {
	c := &Cloud{Positions: positions, Colors: colors}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromPoints builds a colourless cloud from vectors.
func FromPoints(pts []r3.Vec) *Cloud {
	pos := make([]float32, 0, len(pts)*3)
	for _, p := range pts {
		pos = append(pos, float32(p.X), float32(p.Y), float32(p.Z))
	}
	return &Cloud{Positions: pos}
}

// Validate checks that the buffers describe whole points.
func (c *Cloud) Validate() error {
	if len(c.Positions)%3 != 0 {
		return fmt.Errorf("%w: %d position values", ErrMalformed, len(c.Positions))
	}
	if c.Colors != nil && len(c.Colors) != len(c.Positions) {
		return fmt.Errorf("%w: %d colour values for %d points", ErrMalformed, len(c.Colors), c.Len())
	}
	return nil
}

// Len returns the number of points.
func (c *Cloud) Len() int { return len(c.Positions) / 3 }

// HasColors reports whether per-point colours are present.
func (c *Cloud) HasColors() bool { return len(c.Colors) > 0 }

// Point returns point i.
func (c *Cloud) Point(i int) r3.Vec {
	j := i * 3
	return r3.Vec{X: float64(c.Positions[j]), Y: float64(c.Positions[j+1]), Z: float64(c.Positions[j+2])}
}

// Color returns the colour of point i, or white when the cloud has none.
func (c *Cloud) Color(i int) (r, g, b float32) {
	if !c.HasColors() {
		return 1, 1, 1
	}
	j := i * 3
	return c.Colors[j], c.Colors[j+1], c.Colors[j+2]
}

// Clone returns a deep copy.
func (c *Cloud) Clone() *Cloud {
	out := &Cloud{Positions: append([]float32(nil), c.Positions...)}
	if c.Colors != nil {
		out.Colors = append([]float32(nil), c.Colors...)
	}
	return out
}

// ApplyMatrix bakes m into the positions in place.
func (c *Cloud) ApplyMatrix(m transform.Mat4) {
	for i := 0; i < c.Len(); i++ {
		p := m.ApplyPoint(c.Point(i))
		j := i * 3
		c.Positions[j] = float32(p.X)
		c.Positions[j+1] = float32(p.Y)
		c.Positions[j+2] = float32(p.Z)
	}
}

// Transformed returns a copy of c with m baked in.
func (c *Cloud) Transformed(m transform.Mat4) *Cloud {
	out := c.Clone()
	out.ApplyMatrix(m)
	return out
}

// Bounds returns the axis-aligned bounding box. An empty cloud yields two
// zero vectors.
func (c *Cloud) Bounds() (lo, hi r3.Vec) {
	if c.Len() == 0 {
		return r3.Vec{}, r3.Vec{}
	}
	lo = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for i := 0; i < c.Len(); i++ {
		p := c.Point(i)
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return lo, hi
}

// Downsample keeps every k-th point so that at most max points remain.
// The input is returned unchanged when it is already small enough.
func (c *Cloud) Downsample(max int) *Cloud {
	n := c.Len()
	if max <= 0 || n <= max {
		return c
	}
	stride := (n + max - 1) / max
	out := &Cloud{Positions: make([]float32, 0, (n/stride+1)*3)}
	if c.HasColors() {
		out.Colors = make([]float32, 0, (n/stride+1)*3)
	}
	for i := 0; i < n; i += stride {
		j := i * 3
		out.Positions = append(out.Positions, c.Positions[j:j+3]...)
		if c.HasColors() {
			out.Colors = append(out.Colors, c.Colors[j:j+3]...)
		}
	}
	return out
}

package pointcloud

import "math"

// Defaults for the viewer's near-origin exclusion cylinder.
const (
	DefaultFilterRadius = 0.3
	DefaultFilterHeight = 4.0
)

// FilterNearOrigin removes the points inside a vertical cylinder centred on
// the origin: a point is dropped when its XY distance is ≤ radius and its
// |z| is ≤ height/2. Run it after the scene transform has been baked in;
// it clears the viewer's stand point so rays from the camera reach the
// surrounding geometry.
//
// The result is a compact new cloud; c is not modified. The second return
// value is the number of points removed.
func FilterNearOrigin(c *Cloud, radius, height float64) (*Cloud, int) {
	half := height / 2
	n := c.Len()
	out := &Cloud{Positions: make([]float32, 0, len(c.Positions))}
	withColors := c.HasColors()
	if withColors {
		out.Colors = make([]float32, 0, len(c.Colors))
	}

	for i := 0; i < n; i++ {
		j := i * 3
		x, y, z := float64(c.Positions[j]), float64(c.Positions[j+1]), float64(c.Positions[j+2])
		if math.Hypot(x, y) <= radius && math.Abs(z) <= half {
			continue
		}
		out.Positions = append(out.Positions, c.Positions[j:j+3]...)
		if withColors {
			out.Colors = append(out.Colors, c.Colors[j:j+3]...)
		}
	}
	return out, n - out.Len()
}

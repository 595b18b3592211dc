package pointcloud

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/transform"
)

// DefaultPickThreshold is the world-space distance within which a point
// counts as hit by a ray.
const DefaultPickThreshold = 0.1

// Ray is a half-line in world space. Direction need not be normalised.
type Ray struct {
	Origin    r3.Vec
	Direction r3.Vec
}

// Hit describes one picked point.
type Hit struct {
	Index         int
	Point         r3.Vec  // closest point on the ray, world frame
	Distance      float64 // from ray origin to Point
	DistanceToRay float64 // local-frame distance of the sample from the ray
}

// Pick returns the nearest point of c hit by ray, where c is displayed with
// transform m. The second result is false when nothing is hit, including
// when m cannot be inverted or the ray has no direction.
func Pick(c *Cloud, m transform.Mat4, ray Ray, threshold float64) (Hit, bool) {
	hits := PickAll(c, m, ray, threshold)
	if len(hits) == 0 {
		return Hit{}, false
	}
	return hits[0], true
}

// PickAll returns every point of c within threshold of ray, nearest first.
//
// The test runs in the cloud's local frame: the ray is moved by the inverse
// of m and the threshold is divided by the mean scale of m. Hit points are
// reported back in world space.
func PickAll(c *Cloud, m transform.Mat4, ray Ray, threshold float64) []Hit {
	if r3.Norm2(ray.Direction) == 0 || c.Len() == 0 {
		return nil
	}
	inv, err := m.Inverse()
	if err != nil {
		return nil
	}
	scale := m.UniformScale()
	if scale == 0 {
		return nil
	}
	local := threshold / scale
	localSq := local * local

	origin := inv.ApplyPoint(ray.Origin)
	dir := r3.Unit(inv.ApplyDirection(ray.Direction))

	var hits []Hit
	for i := 0; i < c.Len(); i++ {
		p := c.Point(i)
		closest := closestOnRay(origin, dir, p)
		dSq := r3.Norm2(r3.Sub(p, closest))
		if dSq >= localSq {
			continue
		}
		world := m.ApplyPoint(closest)
		hits = append(hits, Hit{
			Index:         i,
			Point:         world,
			Distance:      r3.Norm(r3.Sub(world, ray.Origin)),
			DistanceToRay: math.Sqrt(dSq),
		})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	return hits
}

// closestOnRay returns the point of the ray nearest to p. Points behind the
// origin map to the origin itself.
func closestOnRay(origin, dir, p r3.Vec) r3.Vec {
	t := r3.Dot(r3.Sub(p, origin), dir)
	if t < 0 {
		return origin
	}
	return r3.Add(origin, r3.Scale(t, dir))
}

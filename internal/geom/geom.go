// Package geom collects the planar helpers shared by the navigation
// packages. Navigation happens on the XZ plane; Y is carried along for
// waypoint heights only.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon is the default tolerance for containment and degeneracy checks.
const Epsilon = 1e-6

// degenerateArea bounds the doubled triangle area below which a triangle
// is treated as zero-area.
const degenerateArea = 1e-12

// XZ projects a world position onto the navigation plane.
func XZ(v mgl64.Vec3) mgl64.Vec2 {
	return mgl64.Vec2{v[0], v[2]}
}

// Lift rebuilds a world position from a plane point and a height.
func Lift(p mgl64.Vec2, y float64) mgl64.Vec3 {
	return mgl64.Vec3{p[0], y, p[1]}
}

// Cross2 is the z component of the 3D cross product of two plane vectors.
// Positive when b is counter-clockwise from a.
func Cross2(a, b mgl64.Vec2) float64 {
	return a[0]*b[1] - a[1]*b[0]
}

// TriArea2 returns twice the signed area of triangle abc.
func TriArea2(a, b, c mgl64.Vec2) float64 {
	return Cross2(b.Sub(a), c.Sub(a))
}

// DistSq returns the squared distance between two plane points.
func DistSq(a, b mgl64.Vec2) float64 {
	d := a.Sub(b)
	return d.Dot(d)
}

// Normalize returns the unit vector of v and false when v has no length.
func Normalize(v mgl64.Vec2) (mgl64.Vec2, bool) {
	l := v.Len()
	if l < Epsilon || math.IsNaN(l) {
		return mgl64.Vec2{}, false
	}
	return v.Mul(1 / l), true
}

// Perp returns v rotated a quarter turn counter-clockwise.
func Perp(v mgl64.Vec2) mgl64.Vec2 {
	return mgl64.Vec2{-v[1], v[0]}
}

// Rotate turns v by angle radians counter-clockwise.
func Rotate(v mgl64.Vec2, angle float64) mgl64.Vec2 {
	s, c := math.Sincos(angle)
	return mgl64.Vec2{v[0]*c - v[1]*s, v[0]*s + v[1]*c}
}

// Yaw returns the heading of a plane direction in radians.
func Yaw(dir mgl64.Vec2) float64 {
	return math.Atan2(dir[1], dir[0])
}

// FromYaw returns the unit direction for a heading.
func FromYaw(yaw float64) mgl64.Vec2 {
	s, c := math.Sincos(yaw)
	return mgl64.Vec2{c, s}
}

// WrapAngle maps an angle into (-pi, pi].
func WrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Barycentric returns the edge-function weights of p with respect to
// triangle abc: w1 for b and w2 for c. ok is false for zero-area
// triangles.
func Barycentric(p, a, b, c mgl64.Vec2) (w1, w2 float64, ok bool) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	denom := Cross2(ab, ac)
	if math.Abs(denom) < degenerateArea {
		return 0, 0, false
	}
	ap := p.Sub(a)
	w1 = Cross2(ap, ac) / denom
	w2 = Cross2(ab, ap) / denom
	return w1, w2, true
}

// PointInTriangle reports whether p lies inside abc, tolerating points on
// an edge within eps.
func PointInTriangle(p, a, b, c mgl64.Vec2, eps float64) bool {
	w1, w2, ok := Barycentric(p, a, b, c)
	if !ok {
		return false
	}
	return w1 >= -eps && w2 >= -eps && w1+w2 <= 1+eps
}

// ClosestPointOnSegment projects p onto segment ab.
func ClosestPointOnSegment(p, a, b mgl64.Vec2) mgl64.Vec2 {
	ab := b.Sub(a)
	lenSq := ab.Dot(ab)
	if lenSq < degenerateArea {
		return a
	}
	t := p.Sub(a).Dot(ab) / lenSq
	t = mgl64.Clamp(t, 0, 1)
	return a.Add(ab.Mul(t))
}

// SegmentDistSq returns the squared distance from p to segment ab.
func SegmentDistSq(p, a, b mgl64.Vec2) float64 {
	return DistSq(p, ClosestPointOnSegment(p, a, b))
}

// ClosestPointOnTriangle returns the point of triangle abc nearest to p.
func ClosestPointOnTriangle(p, a, b, c mgl64.Vec2) mgl64.Vec2 {
	if PointInTriangle(p, a, b, c, 0) {
		return p
	}
	best := ClosestPointOnSegment(p, a, b)
	bestDist := DistSq(p, best)
	for _, edge := range [2][2]mgl64.Vec2{{b, c}, {c, a}} {
		q := ClosestPointOnSegment(p, edge[0], edge[1])
		if d := DistSq(p, q); d < bestDist {
			best, bestDist = q, d
		}
	}
	return best
}

// PointRectDistSq returns the squared distance from p to the axis-aligned
// rectangle [min, max]; zero when p is inside.
func PointRectDistSq(p, min, max mgl64.Vec2) float64 {
	dx := 0.0
	if p[0] < min[0] {
		dx = min[0] - p[0]
	} else if p[0] > max[0] {
		dx = p[0] - max[0]
	}
	dz := 0.0
	if p[1] < min[1] {
		dz = min[1] - p[1]
	} else if p[1] > max[1] {
		dz = p[1] - max[1]
	}
	return dx*dx + dz*dz
}

// RayCircle intersects the ray origin + dir*t, t in [0, length], with a
// circle. dir must be unit length. It returns the entry distance; an
// origin already inside the circle hits at zero.
func RayCircle(origin, dir mgl64.Vec2, length float64, center mgl64.Vec2, radius float64) (float64, bool) {
	m := origin.Sub(center)
	c := m.Dot(m) - radius*radius
	if c <= 0 {
		return 0, true
	}
	b := m.Dot(dir)
	if b > 0 {
		return 0, false
	}
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	t := -b - math.Sqrt(disc)
	if t < 0 {
		t = 0
	}
	if t > length {
		return 0, false
	}
	return t, true
}

// RaySegment intersects the ray origin + dir*t, t in [0, length], with
// segment ab and returns the hit distance.
func RaySegment(origin, dir mgl64.Vec2, length float64, a, b mgl64.Vec2) (float64, bool) {
	ab := b.Sub(a)
	denom := Cross2(dir, ab)
	if math.Abs(denom) < degenerateArea {
		return 0, false
	}
	ao := a.Sub(origin)
	t := Cross2(ao, ab) / denom
	u := Cross2(ao, dir) / denom
	if t < 0 || t > length || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

package steer

import (
	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/geom"
)

// Obstacle is another agent as seen in the previous tick's publication.
type Obstacle struct {
	Position mgl64.Vec2
	Velocity mgl64.Vec2
	Radius   float64
}

// Wall is a boundary edge of the mesh.
type Wall struct {
	A mgl64.Vec2
	B mgl64.Vec2
}

// Choice is the outcome of a probe fan.
type Choice struct {
	Direction mgl64.Vec2
	// Clearance is the free distance along Direction.
	Clearance float64
	// Clear is set when the probe met nothing within its length.
	Clear bool
}

// Avoid casts the forward probe, then probes deflected by ±ProbeStep,
// ±2·ProbeStep and so on up to MaxDeflection. The first probe that meets
// nothing wins; otherwise the probe with the most clearance does.
func (d *Director) Avoid(pos, desired mgl64.Vec2, length float64, settings Settings, neighbors []Obstacle, walls []Wall) Choice {
	best := Choice{Direction: desired, Clearance: -1}
	try := func(dir mgl64.Vec2) bool {
		clearance, clear := d.probe(pos, dir, length, settings, neighbors, walls)
		if clear {
			best = Choice{Direction: dir, Clearance: length, Clear: true}
			return true
		}
		if clearance > best.Clearance {
			best = Choice{Direction: dir, Clearance: clearance}
		}
		return false
	}
	if try(desired) {
		return best
	}
	for angle := d.cfg.ProbeStep; angle <= d.cfg.MaxDeflection+1e-9; angle += d.cfg.ProbeStep {
		if try(geom.Rotate(desired, angle)) || try(geom.Rotate(desired, -angle)) {
			return best
		}
	}
	return best
}

// probe returns the free distance along dir and whether the probe is clear
// over its whole length. Neighbours are circles moved ahead by one second of
// their last velocity and widened by the agent's avoidance radius. Walls
// are widened by the agent radius.
func (d *Director) probe(pos, dir mgl64.Vec2, length float64, settings Settings, neighbors []Obstacle, walls []Wall) (float64, bool) {
	hit := length
	clear := true
	record := func(t float64) {
		if t < hit {
			hit = t
		}
		clear = false
	}
	for _, other := range neighbors {
		center := other.Position.Add(other.Velocity.Mul(d.cfg.LookAhead))
		radius := other.Radius + settings.AvoidanceRadius
		if geom.DistSq(pos, center) <= radius*radius && dir.Dot(pos.Sub(center)) >= 0 {
			// Already overlapping and heading away.
			continue
		}
		if t, ok := geom.RayCircle(pos, dir, length, center, radius); ok {
			record(t)
		}
	}
	for _, wall := range walls {
		if t, ok := rayCapsule(pos, dir, length, wall.A, wall.B, settings.Radius); ok {
			record(t)
		}
	}
	return hit, clear
}

// rayCapsule intersects a ray with segment ab widened by radius. Rays that
// start inside the capsule and head away from the segment do not hit.
func rayCapsule(origin, dir mgl64.Vec2, length float64, a, b mgl64.Vec2, radius float64) (float64, bool) {
	closest := geom.ClosestPointOnSegment(origin, a, b)
	if geom.DistSq(origin, closest) <= radius*radius {
		if dir.Dot(origin.Sub(closest)) >= 0 {
			return 0, false
		}
		return 0, true
	}
	best := length
	found := false
	if normal, ok := geom.Normalize(geom.Perp(b.Sub(a))); ok {
		for _, side := range [2]float64{radius, -radius} {
			offset := normal.Mul(side)
			if t, ok := geom.RaySegment(origin, dir, length, a.Add(offset), b.Add(offset)); ok && t < best {
				best, found = t, true
			}
		}
	}
	for _, end := range [2]mgl64.Vec2{a, b} {
		if t, ok := geom.RayCircle(origin, dir, length, end, radius); ok && t < best {
			best, found = t, true
		}
	}
	return best, found
}

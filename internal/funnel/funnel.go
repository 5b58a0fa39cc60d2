// Package funnel turns a triangle corridor into a short list of waypoints
// that keep an agent of a given radius clear of the corridor walls.
package funnel

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/geom"
	"crowdnav/internal/navmesh"
)

// InsetFactor scales the agent radius when pulling portal vertices away
// from the corridor walls.
const InsetFactor = 1.25

// ErrBrokenCorridor is returned when consecutive corridor triangles do not
// share an edge, which happens when a corridor outlives its mesh.
var ErrBrokenCorridor = errors.New("corridor triangles are not adjacent")

// Request is one smoothing job.
type Request struct {
	Corridor    []navmesh.TriangleID
	Start       mgl64.Vec3
	Destination mgl64.Vec3
	Radius      float64
}

// Portal is the inset opening between two consecutive corridor triangles,
// seen in the direction of travel.
type Portal struct {
	Left    mgl64.Vec2
	Right   mgl64.Vec2
	LeftID  int32
	RightID int32
	// Triangle is the corridor triangle entered through the portal.
	Triangle navmesh.TriangleID
}

// noVertex marks portal sides that are not mesh vertices (start and
// destination).
const noVertex int32 = -1

// Smooth returns the waypoints for req. The destination is always the last
// waypoint; an empty corridor yields no waypoints.
func Smooth(mesh *navmesh.Mesh, req Request) ([]mgl64.Vec3, error) {
	switch len(req.Corridor) {
	case 0:
		return nil, nil
	case 1:
		return []mgl64.Vec3{req.Destination}, nil
	}
	portals, err := Portals(mesh, req.Corridor, req.Radius)
	if err != nil {
		return nil, err
	}
	return sweep(mesh, portals, req), nil
}

// Portals builds the inset, oriented portals of a corridor.
func Portals(mesh *navmesh.Mesh, corridor []navmesh.TriangleID, radius float64) ([]Portal, error) {
	if len(corridor) < 2 {
		return nil, nil
	}
	normals, err := wallNormals(mesh, corridor)
	if err != nil {
		return nil, err
	}
	inset := InsetFactor * radius
	portals := make([]Portal, 0, len(corridor)-1)
	for i := 0; i+1 < len(corridor); i++ {
		from, to := corridor[i], corridor[i+1]
		slot, _ := mesh.SharedSlot(from, to)
		a, b := mesh.EdgeVertices(from, slot)
		pa, pb := mesh.EdgePoints(from, slot)

		// Orient by the side each vertex falls on, seen from the
		// triangle being left.
		origin := geom.XZ(mesh.Triangles[from].Centroid)
		portal := Portal{Left: pa, Right: pb, LeftID: a, RightID: b, Triangle: to}
		if geom.Cross2(pa.Sub(origin), pb.Sub(origin)) > 0 {
			portal = Portal{Left: pb, Right: pa, LeftID: b, RightID: a, Triangle: to}
		}
		if inset > 0 {
			portal = insetPortal(portal, normals, inset)
		}
		portals = append(portals, portal)
	}
	return portals, nil
}

// wallNormals sums, per vertex, the unit inward normals of the corridor
// edges that are not portals.
func wallNormals(mesh *navmesh.Mesh, corridor []navmesh.TriangleID) (map[int32]mgl64.Vec2, error) {
	normals := make(map[int32]mgl64.Vec2)
	for k, id := range corridor {
		if !mesh.InRange(id) {
			return nil, fmt.Errorf("%w: triangle %d out of range", ErrBrokenCorridor, id)
		}
		if k+1 < len(corridor) {
			if _, ok := mesh.SharedSlot(id, corridor[k+1]); !ok {
				return nil, fmt.Errorf("%w: %d -> %d", ErrBrokenCorridor, id, corridor[k+1])
			}
		}
		tri := &mesh.Triangles[id]
		for slot := 0; slot < 3; slot++ {
			n := tri.Neighbors[slot]
			if n != navmesh.NoNeighbor && ((k > 0 && n == corridor[k-1]) || (k+1 < len(corridor) && n == corridor[k+1])) {
				continue
			}
			a, b := mesh.EdgeVertices(id, slot)
			pa, pb := mesh.EdgePoints(id, slot)
			normal, ok := geom.Normalize(geom.Perp(pb.Sub(pa)))
			if !ok {
				continue
			}
			opposite := geom.XZ(mesh.Vertices[tri.Corners[(slot+2)%3]].Position)
			if normal.Dot(opposite.Sub(pa)) < 0 {
				normal = normal.Mul(-1)
			}
			normals[a] = normals[a].Add(normal)
			normals[b] = normals[b].Add(normal)
		}
	}
	return normals, nil
}

// insetPortal pulls both portal ends inwards. When the ends would pass
// each other both collapse onto the portal midpoint.
func insetPortal(p Portal, normals map[int32]mgl64.Vec2, inset float64) Portal {
	mid := p.Left.Add(p.Right).Mul(0.5)
	axis := p.Right.Sub(p.Left)
	move := func(v mgl64.Vec2, id int32) mgl64.Vec2 {
		dir, ok := geom.Normalize(normals[id])
		if !ok {
			dir, ok = geom.Normalize(mid.Sub(v))
			if !ok {
				return v
			}
		}
		return v.Add(dir.Mul(inset))
	}
	left := move(p.Left, p.LeftID)
	right := move(p.Right, p.RightID)
	if right.Sub(left).Dot(axis) <= 0 {
		left, right = mid, mid
	}
	p.Left, p.Right = left, right
	return p
}

type funnelPoint struct {
	pos    mgl64.Vec2
	id     int32
	portal int
}

// sweep runs the funnel over start, the corridor portals and the
// destination. The last portal is the destination itself, so the final
// iterations act as the closing pass toward it.
func sweep(mesh *navmesh.Mesh, portals []Portal, req Request) []mgl64.Vec3 {
	start := geom.XZ(req.Start)
	dest := geom.XZ(req.Destination)

	n := len(portals) + 2
	leftAt := func(i int) funnelPoint {
		switch {
		case i == 0:
			return funnelPoint{pos: start, id: noVertex}
		case i == n-1:
			return funnelPoint{pos: dest, id: noVertex, portal: i}
		}
		return funnelPoint{pos: portals[i-1].Left, id: portals[i-1].LeftID, portal: i}
	}
	rightAt := func(i int) funnelPoint {
		switch {
		case i == 0:
			return funnelPoint{pos: start, id: noVertex}
		case i == n-1:
			return funnelPoint{pos: dest, id: noVertex, portal: i}
		}
		return funnelPoint{pos: portals[i-1].Right, id: portals[i-1].RightID, portal: i}
	}

	var waypoints []mgl64.Vec3
	commit := func(p funnelPoint) {
		if p.portal < 1 || p.portal > len(portals) {
			return
		}
		tri := portals[p.portal-1].Triangle
		point := geom.Lift(p.pos, mesh.HeightAt(tri, p.pos))
		if len(waypoints) > 0 && geom.DistSq(geom.XZ(waypoints[len(waypoints)-1]), p.pos) < geom.Epsilon*geom.Epsilon {
			return
		}
		waypoints = append(waypoints, point)
	}

	apex := leftAt(0)
	left, right := apex, apex
	restart := func(p funnelPoint) int {
		commit(p)
		apex = p
		left, right = apex, apex
		return apex.portal
	}
	for i := 1; i < n; i++ {
		nextLeft, nextRight := leftAt(i), rightAt(i)
		toApex := func(p funnelPoint) mgl64.Vec2 { return p.pos.Sub(apex.pos) }

		if geom.Cross2(toApex(right), toApex(nextRight)) >= 0 {
			if samePoint(apex, right) || geom.Cross2(toApex(left), toApex(nextRight)) < 0 {
				right = nextRight
			} else {
				i = restart(left)
				continue
			}
		}
		if geom.Cross2(toApex(left), toApex(nextLeft)) <= 0 {
			if samePoint(apex, left) || geom.Cross2(toApex(right), toApex(nextLeft)) > 0 {
				left = nextLeft
			} else {
				i = restart(right)
				continue
			}
		}
	}

	if len(waypoints) == 0 || geom.DistSq(geom.XZ(waypoints[len(waypoints)-1]), dest) >= geom.Epsilon*geom.Epsilon {
		waypoints = append(waypoints, req.Destination)
	} else {
		waypoints[len(waypoints)-1] = req.Destination
	}
	return waypoints
}

// samePoint treats two funnel points as one when they are the same mesh
// vertex, even if different portals inset it differently.
func samePoint(a, b funnelPoint) bool {
	if a.id != noVertex && a.id == b.id {
		return true
	}
	return geom.DistSq(a.pos, b.pos) < geom.Epsilon*geom.Epsilon
}

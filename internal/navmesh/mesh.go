// Package navmesh holds the triangulated navigable surface built from a
// bake descriptor. Triangles refer to each other by index only.
package navmesh

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/bake"
	"crowdnav/internal/geom"
)

// TriangleID indexes Mesh triangles.
type TriangleID int32

const (
	// Unresolved is returned when a position cannot be mapped onto the
	// mesh. It is never a valid index.
	Unresolved TriangleID = -1
	// NoNeighbor marks an open edge slot.
	NoNeighbor TriangleID = -1
)

// Valid reports whether id can index a triangle.
func (id TriangleID) Valid() bool {
	return id >= 0
}

// AreaMask selects the area tags an agent may walk on.
type AreaMask uint32

// AllAreas allows every area tag.
const AllAreas AreaMask = ^AreaMask(0)

// Allows reports whether area is part of the mask.
func (m AreaMask) Allows(area uint8) bool {
	if area >= 32 {
		return false
	}
	return m&(1<<area) != 0
}

// Vertex is a mesh corner.
type Vertex struct {
	Position mgl64.Vec3
	Changed  bool
}

// Triangle stores topology plus the geometry derived from its corners.
// Edge slot i joins Corners[i] and Corners[(i+1)%3].
type Triangle struct {
	Corners   [3]int32
	Neighbors [3]TriangleID
	Widths    [3]float64
	Boundary  [3]bool
	Area      uint8
	Centroid  mgl64.Vec3
	Min       mgl64.Vec2
	Max       mgl64.Vec2
	Radius    float64
	Changed   bool
}

// BoundaryEdge is an open edge of the mesh.
type BoundaryEdge struct {
	Triangle TriangleID
	Slot     int
}

// Mesh is the navigable surface for one bake.
type Mesh struct {
	SceneID   uint32
	Vertices  []Vertex
	Triangles []Triangle
	Min       mgl64.Vec2
	Max       mgl64.Vec2

	incident [][]TriangleID
}

// Build constructs a mesh from a bake descriptor.
func Build(desc bake.Descriptor) (*Mesh, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	mesh := &Mesh{
		SceneID:   desc.SceneID,
		Vertices:  make([]Vertex, len(desc.Vertices)),
		Triangles: make([]Triangle, len(desc.Triangles)),
		incident:  make([][]TriangleID, len(desc.Vertices)),
	}
	for i, v := range desc.Vertices {
		mesh.Vertices[i] = Vertex{Position: mgl64.Vec3{v[0], v[1], v[2]}}
	}
	for i, corners := range desc.Triangles {
		tri := &mesh.Triangles[i]
		tri.Corners = corners
		tri.Area = desc.Area(i)
		tri.Neighbors = [3]TriangleID{NoNeighbor, NoNeighbor, NoNeighbor}
		for _, c := range corners {
			mesh.incident[c] = append(mesh.incident[c], TriangleID(i))
		}
	}

	var err error
	if len(desc.Adjacency) > 0 {
		err = mesh.applyAdjacency(desc.Adjacency)
	} else {
		err = mesh.deriveAdjacency()
	}
	if err != nil {
		return nil, err
	}

	for i := range mesh.Triangles {
		mesh.RefreshTriangle(TriangleID(i))
	}
	mesh.computeBounds()
	return mesh, nil
}

type edgeKey struct {
	lo, hi int32
}

func makeEdgeKey(a, b int32) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{lo: a, hi: b}
}

type edgeRef struct {
	tri  TriangleID
	slot int
}

func (m *Mesh) deriveAdjacency() error {
	open := make(map[edgeKey]edgeRef, len(m.Triangles)*3/2)
	for i := range m.Triangles {
		id := TriangleID(i)
		for slot := 0; slot < 3; slot++ {
			a, b := m.EdgeVertices(id, slot)
			key := makeEdgeKey(a, b)
			other, exists := open[key]
			if !exists {
				open[key] = edgeRef{tri: id, slot: slot}
				continue
			}
			if other.tri == NoNeighbor {
				return fmt.Errorf("%w: edge %d-%d shared by more than two triangles", bake.ErrInvalidDescriptor, key.lo, key.hi)
			}
			m.Triangles[id].Neighbors[slot] = other.tri
			m.Triangles[other.tri].Neighbors[other.slot] = id
			open[key] = edgeRef{tri: NoNeighbor}
		}
	}
	return nil
}

func (m *Mesh) applyAdjacency(rows [][3]int32) error {
	for i, row := range rows {
		id := TriangleID(i)
		for slot, n := range row {
			if n == bake.OpenEdge {
				continue
			}
			neighbor := TriangleID(n)
			a, b := m.EdgeVertices(id, slot)
			back, ok := m.slotForEdge(neighbor, a, b)
			if !ok {
				return fmt.Errorf("%w: triangle %d slot %d names %d which does not share edge %d-%d", bake.ErrInvalidDescriptor, i, slot, n, a, b)
			}
			if rows[n][back] != int32(i) {
				return fmt.Errorf("%w: adjacency %d->%d is not mutual", bake.ErrInvalidDescriptor, i, n)
			}
			m.Triangles[id].Neighbors[slot] = neighbor
		}
	}
	return nil
}

func (m *Mesh) slotForEdge(id TriangleID, a, b int32) (int, bool) {
	want := makeEdgeKey(a, b)
	for slot := 0; slot < 3; slot++ {
		x, y := m.EdgeVertices(id, slot)
		if makeEdgeKey(x, y) == want {
			return slot, true
		}
	}
	return 0, false
}

func (m *Mesh) computeBounds() {
	min := mgl64.Vec2{math.Inf(1), math.Inf(1)}
	max := mgl64.Vec2{math.Inf(-1), math.Inf(-1)}
	for _, v := range m.Vertices {
		p := geom.XZ(v.Position)
		min = mgl64.Vec2{math.Min(min[0], p[0]), math.Min(min[1], p[1])}
		max = mgl64.Vec2{math.Max(max[0], p[0]), math.Max(max[1], p[1])}
	}
	m.Min = min
	m.Max = max
}

// RefreshTriangle recomputes the derived geometry of one triangle. Edge
// widths come from the shared corners only, so both sides of an edge
// always agree.
func (m *Mesh) RefreshTriangle(id TriangleID) {
	tri := &m.Triangles[id]
	a := m.Vertices[tri.Corners[0]].Position
	b := m.Vertices[tri.Corners[1]].Position
	c := m.Vertices[tri.Corners[2]].Position
	tri.Centroid = a.Add(b).Add(c).Mul(1.0 / 3.0)

	centroid := geom.XZ(tri.Centroid)
	tri.Min = mgl64.Vec2{math.Inf(1), math.Inf(1)}
	tri.Max = mgl64.Vec2{math.Inf(-1), math.Inf(-1)}
	tri.Radius = 0
	for _, corner := range [3]mgl64.Vec3{a, b, c} {
		p := geom.XZ(corner)
		tri.Min = mgl64.Vec2{math.Min(tri.Min[0], p[0]), math.Min(tri.Min[1], p[1])}
		tri.Max = mgl64.Vec2{math.Max(tri.Max[0], p[0]), math.Max(tri.Max[1], p[1])}
		if d := p.Sub(centroid).Len(); d > tri.Radius {
			tri.Radius = d
		}
	}

	for slot := 0; slot < 3; slot++ {
		tri.Boundary[slot] = tri.Neighbors[slot] == NoNeighbor
		if tri.Boundary[slot] {
			tri.Widths[slot] = 0
			continue
		}
		p, q := m.EdgePoints(id, slot)
		tri.Widths[slot] = p.Sub(q).Len()
	}
}

// TriangleCount reports the number of triangles.
func (m *Mesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.Triangles)
}

// InRange reports whether id indexes a triangle of this mesh.
func (m *Mesh) InRange(id TriangleID) bool {
	return m != nil && id >= 0 && int(id) < len(m.Triangles)
}

// EdgeVertices returns the vertex indices of an edge slot.
func (m *Mesh) EdgeVertices(id TriangleID, slot int) (int32, int32) {
	tri := &m.Triangles[id]
	return tri.Corners[slot], tri.Corners[(slot+1)%3]
}

// EdgePoints returns the plane positions of an edge slot.
func (m *Mesh) EdgePoints(id TriangleID, slot int) (mgl64.Vec2, mgl64.Vec2) {
	a, b := m.EdgeVertices(id, slot)
	return geom.XZ(m.Vertices[a].Position), geom.XZ(m.Vertices[b].Position)
}

// Corners2D returns the plane positions of a triangle's corners.
func (m *Mesh) Corners2D(id TriangleID) (mgl64.Vec2, mgl64.Vec2, mgl64.Vec2) {
	tri := &m.Triangles[id]
	return geom.XZ(m.Vertices[tri.Corners[0]].Position),
		geom.XZ(m.Vertices[tri.Corners[1]].Position),
		geom.XZ(m.Vertices[tri.Corners[2]].Position)
}

// SharedSlot returns the edge slot of from that borders to.
func (m *Mesh) SharedSlot(from, to TriangleID) (int, bool) {
	tri := &m.Triangles[from]
	for slot, n := range tri.Neighbors {
		if n == to {
			return slot, true
		}
	}
	return 0, false
}

// Incident lists the triangles using a vertex.
func (m *Mesh) Incident(vertex int32) []TriangleID {
	if m == nil || vertex < 0 || int(vertex) >= len(m.incident) {
		return nil
	}
	return m.incident[vertex]
}

// Contains tests point-in-triangle on the plane with tolerance eps.
func (m *Mesh) Contains(id TriangleID, p mgl64.Vec2, eps float64) bool {
	a, b, c := m.Corners2D(id)
	return geom.PointInTriangle(p, a, b, c, eps)
}

// ClosestPoint projects p onto triangle id and lifts it to the surface.
func (m *Mesh) ClosestPoint(id TriangleID, p mgl64.Vec3) mgl64.Vec3 {
	a, b, c := m.Corners2D(id)
	q := geom.ClosestPointOnTriangle(geom.XZ(p), a, b, c)
	return geom.Lift(q, m.HeightAt(id, q))
}

// HeightAt interpolates the surface height of triangle id at p. Degenerate
// triangles report the centroid height.
func (m *Mesh) HeightAt(id TriangleID, p mgl64.Vec2) float64 {
	tri := &m.Triangles[id]
	a, b, c := m.Corners2D(id)
	w1, w2, ok := geom.Barycentric(p, a, b, c)
	if !ok {
		return tri.Centroid[1]
	}
	ya := m.Vertices[tri.Corners[0]].Position[1]
	yb := m.Vertices[tri.Corners[1]].Position[1]
	yc := m.Vertices[tri.Corners[2]].Position[1]
	return ya + w1*(yb-ya) + w2*(yc-ya)
}

// BoundaryEdges appends the open edges of triangle id to dst.
func (m *Mesh) BoundaryEdges(dst []BoundaryEdge, id TriangleID) []BoundaryEdge {
	tri := &m.Triangles[id]
	for slot := 0; slot < 3; slot++ {
		if tri.Boundary[slot] {
			dst = append(dst, BoundaryEdge{Triangle: id, Slot: slot})
		}
	}
	return dst
}

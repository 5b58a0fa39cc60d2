package spatial

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/navmesh"
)

// StageTriangle computes the cell list a dirty triangle will occupy after
// its geometry was refreshed. It writes only the triangle's own slot and
// may run in parallel for distinct triangles.
func (g *Grid) StageTriangle(mesh *navmesh.Mesh, id navmesh.TriangleID) {
	g.staged[id] = g.cellsForTriangle(mesh, id)
}

// AffectedCells returns, sorted, every cell that held a dirty triangle
// before the change or will hold it afterwards. Dirty triangles must be
// staged first.
func (g *Grid) AffectedCells(dirty []navmesh.TriangleID) []int {
	if len(dirty) == 0 {
		return nil
	}
	seen := make(map[int]struct{})
	for _, id := range dirty {
		for _, idx := range g.triCells[id] {
			seen[idx] = struct{}{}
		}
		for _, idx := range g.staged[id] {
			seen[idx] = struct{}{}
		}
	}
	cells := make([]int, 0, len(seen))
	for idx := range seen {
		cells = append(cells, idx)
	}
	sort.Ints(cells)
	return cells
}

// ReindexCell rebuilds the candidate set of one cell: clean triangles are
// kept, dirty triangles are kept or added according to their staged
// lists. isDirty must be indexed by triangle id. Only the cell itself is
// written, so distinct cells may be reindexed in parallel.
func (g *Grid) ReindexCell(index int, dirty []navmesh.TriangleID, isDirty []bool) {
	cell := &g.cells[index]
	next := make([]navmesh.TriangleID, 0, len(cell.Triangles)+1)
	for _, id := range cell.Triangles {
		if !isDirty[id] {
			next = append(next, id)
		}
	}
	for _, id := range dirty {
		for _, idx := range g.staged[id] {
			if idx == index {
				next = append(next, id)
				break
			}
		}
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	cell.Triangles = next
}

// CommitTriangle swaps in the staged cell list of a dirty triangle.
func (g *Grid) CommitTriangle(id navmesh.TriangleID) {
	g.triCells[id] = g.staged[id]
	g.staged[id] = nil
}

// ResetResidents empties every resident list.
func (g *Grid) ResetResidents() {
	for i := range g.cells {
		g.cells[i].Agents = g.cells[i].Agents[:0]
	}
}

// AddResident records an agent slot in the cell owning p. Positions off
// the grid are clamped onto the nearest border cell.
func (g *Grid) AddResident(p mgl64.Vec2, slot int) {
	key := g.KeyFor(p)
	key.X = min(max(key.X, 0), g.cols-1)
	key.Z = min(max(key.Z, 0), g.rows-1)
	idx := g.Index(key)
	g.cells[idx].Agents = append(g.cells[idx].Agents, slot)
}

// AgentsNear appends the resident slots of every cell within radius of p.
func (g *Grid) AgentsNear(dst []int, p mgl64.Vec2, radius float64) []int {
	lo, hi, ok := g.keyRange(p, radius)
	if !ok {
		return dst
	}
	for z := lo.Z; z <= hi.Z; z++ {
		for x := lo.X; x <= hi.X; x++ {
			dst = append(dst, g.cells[g.Index(CellKey{X: x, Z: z})].Agents...)
		}
	}
	return dst
}

// Refresh runs the detect, reindex and commit steps serially and returns
// the touched cells. Changed flags are left for the caller to clear.
func (g *Grid) Refresh(mesh *navmesh.Mesh) []int {
	isDirty := make([]bool, mesh.TriangleCount())
	var dirty []navmesh.TriangleID
	for i := range mesh.Triangles {
		id := navmesh.TriangleID(i)
		if !mesh.TriangleDirty(id) {
			continue
		}
		mesh.RefreshTriangle(id)
		g.StageTriangle(mesh, id)
		isDirty[id] = true
		dirty = append(dirty, id)
	}
	cells := g.AffectedCells(dirty)
	for _, idx := range cells {
		g.ReindexCell(idx, dirty, isDirty)
	}
	for _, id := range dirty {
		g.CommitTriangle(id)
	}
	return cells
}

// Package spatial maps square cells of the navigation plane to the mesh
// triangles that may cover them and to the agents standing in them.
package spatial

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/geom"
	"crowdnav/internal/navmesh"
)

const (
	// DefaultCellSize is used when the configured size is not positive.
	DefaultCellSize = 8.0
	// DefaultTolerance widens triangle bounding circles during assignment.
	DefaultTolerance = 0.01
)

// Config tunes cell layout.
type Config struct {
	CellSize  float64 `json:"cellSize" yaml:"cellSize"`
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
}

func (cfg Config) normalized() Config {
	normalized := cfg
	if normalized.CellSize <= 0 {
		normalized.CellSize = DefaultCellSize
	}
	if normalized.Tolerance < 0 {
		normalized.Tolerance = 0
	}
	return normalized
}

// DefaultConfig returns the default cell layout.
func DefaultConfig() Config {
	return Config{CellSize: DefaultCellSize, Tolerance: DefaultTolerance}
}

// CellKey is an integer (x, z) grid coordinate.
type CellKey struct {
	X int
	Z int
}

// Cell holds candidate triangles and resident agent slots.
type Cell struct {
	Key       CellKey
	Triangles []navmesh.TriangleID
	Agents    []int
}

// Grid covers the floor bounds of one mesh.
type Grid struct {
	cfg         Config
	origin      mgl64.Vec2
	invCellSize float64
	cols        int
	rows        int
	cells       []Cell

	// triCells lists the cells each triangle is assigned to. staged holds
	// the replacement lists computed for dirty triangles until commit.
	triCells [][]int
	staged   [][]int
}

// Build assigns every triangle of mesh to its cells.
func Build(mesh *navmesh.Mesh, cfg Config) *Grid {
	cfg = cfg.normalized()
	extent := mesh.Max.Sub(mesh.Min)
	cols := int(math.Ceil(extent[0] / cfg.CellSize))
	rows := int(math.Ceil(extent[1] / cfg.CellSize))
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	g := &Grid{
		cfg:         cfg,
		origin:      mesh.Min,
		invCellSize: 1.0 / cfg.CellSize,
		cols:        cols,
		rows:        rows,
		cells:       make([]Cell, cols*rows),
		triCells:    make([][]int, mesh.TriangleCount()),
		staged:      make([][]int, mesh.TriangleCount()),
	}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			g.cells[row*cols+col].Key = CellKey{X: col, Z: row}
		}
	}
	for i := range mesh.Triangles {
		id := navmesh.TriangleID(i)
		cells := g.cellsForTriangle(mesh, id)
		g.triCells[i] = cells
		for _, idx := range cells {
			g.cells[idx].Triangles = append(g.cells[idx].Triangles, id)
		}
	}
	return g
}

// Cols reports the grid width in cells.
func (g *Grid) Cols() int { return g.cols }

// Rows reports the grid depth in cells.
func (g *Grid) Rows() int { return g.rows }

// Len reports the number of cells.
func (g *Grid) Len() int { return len(g.cells) }

// CellSize reports the edge length of a cell.
func (g *Grid) CellSize() float64 { return g.cfg.CellSize }

// KeyFor returns the cell coordinate of p. The key may lie outside the
// grid for positions beyond the floor bounds.
func (g *Grid) KeyFor(p mgl64.Vec2) CellKey {
	local := p.Sub(g.origin).Mul(g.invCellSize)
	key := CellKey{X: int(math.Floor(local[0])), Z: int(math.Floor(local[1]))}
	// Points on the far floor edge belong to the last cell.
	if key.X == g.cols && local[0] == float64(g.cols) {
		key.X--
	}
	if key.Z == g.rows && local[1] == float64(g.rows) {
		key.Z--
	}
	return key
}

// InBounds reports whether key names a grid cell.
func (g *Grid) InBounds(key CellKey) bool {
	return key.X >= 0 && key.Z >= 0 && key.X < g.cols && key.Z < g.rows
}

// Index converts an in-bounds key to a cell index.
func (g *Grid) Index(key CellKey) int {
	return key.Z*g.cols + key.X
}

// Cell returns the cell at index.
func (g *Grid) Cell(index int) *Cell {
	return &g.cells[index]
}

// Candidates returns the triangles assigned to key, or nil out of bounds.
func (g *Grid) Candidates(key CellKey) []navmesh.TriangleID {
	if !g.InBounds(key) {
		return nil
	}
	return g.cells[g.Index(key)].Triangles
}

// TriangleCells returns the indices of the cells a triangle is assigned to.
func (g *Grid) TriangleCells(id navmesh.TriangleID) []int {
	if id < 0 || int(id) >= len(g.triCells) {
		return nil
	}
	return g.triCells[id]
}

// CellBounds returns the plane rectangle covered by a cell.
func (g *Grid) CellBounds(index int) (mgl64.Vec2, mgl64.Vec2) {
	key := g.cells[index].Key
	min := g.origin.Add(mgl64.Vec2{float64(key.X), float64(key.Z)}.Mul(g.cfg.CellSize))
	return min, min.Add(mgl64.Vec2{g.cfg.CellSize, g.cfg.CellSize})
}

// keyRange returns the clamped inclusive key range overlapping the square
// of half-size radius around p.
func (g *Grid) keyRange(p mgl64.Vec2, radius float64) (CellKey, CellKey, bool) {
	lo := g.KeyFor(p.Sub(mgl64.Vec2{radius, radius}))
	hi := g.KeyFor(p.Add(mgl64.Vec2{radius, radius}))
	if hi.X < 0 || hi.Z < 0 || lo.X >= g.cols || lo.Z >= g.rows {
		return CellKey{}, CellKey{}, false
	}
	lo.X = max(lo.X, 0)
	lo.Z = max(lo.Z, 0)
	hi.X = min(hi.X, g.cols-1)
	hi.Z = min(hi.Z, g.rows-1)
	return lo, hi, true
}

// cellsForTriangle applies the assignment rules: a cell receives the
// triangle when its centre lies within the widened bounding circle, when
// it contains a corner, or when one of its sides meets the circle.
func (g *Grid) cellsForTriangle(mesh *navmesh.Mesh, id navmesh.TriangleID) []int {
	tri := &mesh.Triangles[id]
	centroid := geom.XZ(tri.Centroid)
	reach := tri.Radius + g.cfg.Tolerance
	reachSq := reach * reach
	a, b, c := mesh.Corners2D(id)
	corners := [3]mgl64.Vec2{a, b, c}

	lo, hi, ok := g.keyRange(centroid, reach)
	if !ok {
		return nil
	}
	cells := make([]int, 0, (hi.X-lo.X+1)*(hi.Z-lo.Z+1))
	for z := lo.Z; z <= hi.Z; z++ {
		for x := lo.X; x <= hi.X; x++ {
			idx := g.Index(CellKey{X: x, Z: z})
			min, max := g.CellBounds(idx)
			if g.touches(centroid, reachSq, corners, min, max) {
				cells = append(cells, idx)
			}
		}
	}
	return cells
}

func (g *Grid) touches(centroid mgl64.Vec2, reachSq float64, corners [3]mgl64.Vec2, min, max mgl64.Vec2) bool {
	center := min.Add(max).Mul(0.5)
	if geom.DistSq(center, centroid) <= reachSq {
		return true
	}
	for _, p := range corners {
		if p[0] >= min[0] && p[0] <= max[0] && p[1] >= min[1] && p[1] <= max[1] {
			return true
		}
	}
	rect := [4]mgl64.Vec2{min, {max[0], min[1]}, max, {min[0], max[1]}}
	for i := 0; i < 4; i++ {
		if geom.SegmentDistSq(centroid, rect[i], rect[(i+1)%4]) <= reachSq {
			return true
		}
	}
	return false
}

// TrianglesNear appends the distinct triangles assigned to cells within
// radius of p.
func (g *Grid) TrianglesNear(dst []navmesh.TriangleID, p mgl64.Vec2, radius float64) []navmesh.TriangleID {
	start := len(dst)
	lo, hi, ok := g.keyRange(p, radius)
	if !ok {
		return dst
	}
	for z := lo.Z; z <= hi.Z; z++ {
		for x := lo.X; x <= hi.X; x++ {
			dst = append(dst, g.cells[g.Index(CellKey{X: x, Z: z})].Triangles...)
		}
	}
	found := dst[start:]
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	out := start
	for i := start; i < len(dst); i++ {
		if i > start && dst[i] == dst[out-1] {
			continue
		}
		dst[out] = dst[i]
		out++
	}
	return dst[:out]
}

// Package locate maps plane positions to the mesh triangle that owns them.
package locate

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/geom"
	"crowdnav/internal/navmesh"
	"crowdnav/internal/spatial"
)

// Config tunes the fallback search used when the owning cell is empty.
type Config struct {
	StartRing int     `json:"startRing" yaml:"startRing"`
	RingStep  int     `json:"ringStep" yaml:"ringStep"`
	MaxRing   int     `json:"maxRing" yaml:"maxRing"`
	Epsilon   float64 `json:"epsilon" yaml:"epsilon"`
}

// DefaultConfig searches ring by ring with no cap.
func DefaultConfig() Config {
	return Config{StartRing: 1, RingStep: 1, Epsilon: geom.Epsilon}
}

func (cfg Config) normalized() Config {
	normalized := cfg
	if normalized.StartRing < 1 {
		normalized.StartRing = 1
	}
	if normalized.RingStep <= 0 {
		normalized.RingStep = 1
	}
	if normalized.MaxRing < 0 {
		normalized.MaxRing = 0
	}
	if normalized.Epsilon <= 0 {
		normalized.Epsilon = geom.Epsilon
	}
	return normalized
}

// Locator resolves positions against one mesh and its grid. It only reads
// shared state and is safe for concurrent use between reindex stages.
type Locator struct {
	mesh *navmesh.Mesh
	grid *spatial.Grid
	cfg  Config
}

// New binds a locator to a mesh and grid pair.
func New(mesh *navmesh.Mesh, grid *spatial.Grid, cfg Config) *Locator {
	return &Locator{mesh: mesh, grid: grid, cfg: cfg.normalized()}
}

// Config returns the effective configuration.
func (l *Locator) Config() Config { return l.cfg }

// Locate returns the triangle containing p, the nearest candidate when
// none contains it, or navmesh.Unresolved when the search finds nothing.
func (l *Locator) Locate(p mgl64.Vec2) navmesh.TriangleID {
	if l == nil || l.mesh == nil || l.grid == nil {
		return navmesh.Unresolved
	}
	key := l.grid.KeyFor(p)
	if candidates := l.grid.Candidates(key); len(candidates) > 0 {
		return l.pick(p, candidates)
	}
	return l.spiral(p, key)
}

// LocateFrom tries the previous triangle first. Agents rarely leave their
// triangle between ticks.
func (l *Locator) LocateFrom(prev navmesh.TriangleID, p mgl64.Vec2) navmesh.TriangleID {
	if l != nil && l.mesh.InRange(prev) && l.mesh.Contains(prev, p, l.cfg.Epsilon) {
		return prev
	}
	return l.Locate(p)
}

// ClosestPoint projects pos onto triangle id.
func (l *Locator) ClosestPoint(id navmesh.TriangleID, pos mgl64.Vec3) mgl64.Vec3 {
	if l == nil || !l.mesh.InRange(id) {
		return pos
	}
	return l.mesh.ClosestPoint(id, pos)
}

// Snap locates pos and projects it onto the resolved triangle.
func (l *Locator) Snap(pos mgl64.Vec3) (mgl64.Vec3, navmesh.TriangleID) {
	id := l.Locate(geom.XZ(pos))
	if !id.Valid() {
		return pos, navmesh.Unresolved
	}
	return l.mesh.ClosestPoint(id, pos), id
}

func (l *Locator) pick(p mgl64.Vec2, candidates []navmesh.TriangleID) navmesh.TriangleID {
	for _, id := range candidates {
		if l.mesh.Contains(id, p, l.cfg.Epsilon) {
			return id
		}
	}
	return l.nearest(p, candidates)
}

// nearest scores candidates by squared centroid distance minus squared
// bounding radius, so large triangles win over small distant ones.
func (l *Locator) nearest(p mgl64.Vec2, candidates []navmesh.TriangleID) navmesh.TriangleID {
	best := navmesh.Unresolved
	bestScore := math.Inf(1)
	for _, id := range candidates {
		tri := &l.mesh.Triangles[id]
		score := geom.DistSq(geom.XZ(tri.Centroid), p) - tri.Radius*tri.Radius
		if score < bestScore || (score == bestScore && id < best) {
			best = id
			bestScore = score
		}
	}
	return best
}

// spiral widens a square of rings around key until some cell holds
// candidates, the whole grid has been covered, or MaxRing is reached.
func (l *Locator) spiral(p mgl64.Vec2, key spatial.CellKey) navmesh.TriangleID {
	var candidates []navmesh.TriangleID
	inner := 0
	ring := l.cfg.StartRing
	// Rings that cannot reach the grid hold nothing; skip them for points
	// far outside the floor.
	if gap := l.gap(key); gap > ring {
		ring += (gap - ring + l.cfg.RingStep - 1) / l.cfg.RingStep * l.cfg.RingStep
		inner = ring - l.cfg.RingStep
	}
	for ; ; ring += l.cfg.RingStep {
		if l.cfg.MaxRing > 0 && ring > l.cfg.MaxRing {
			ring = l.cfg.MaxRing
		}
		candidates = l.collectAnnulus(candidates[:0], key, inner, ring)
		if len(candidates) > 0 {
			return l.pick(p, candidates)
		}
		if l.covers(key, ring) || (l.cfg.MaxRing > 0 && ring >= l.cfg.MaxRing) {
			return navmesh.Unresolved
		}
		inner = ring
	}
}

// collectAnnulus gathers candidates of cells whose Chebyshev distance from
// key lies in (inner, outer].
func (l *Locator) collectAnnulus(dst []navmesh.TriangleID, key spatial.CellKey, inner, outer int) []navmesh.TriangleID {
	loX := max(key.X-outer, 0)
	hiX := min(key.X+outer, l.grid.Cols()-1)
	loZ := max(key.Z-outer, 0)
	hiZ := min(key.Z+outer, l.grid.Rows()-1)
	for z := loZ; z <= hiZ; z++ {
		for x := loX; x <= hiX; x++ {
			dist := max(abs(x-key.X), abs(z-key.Z))
			if dist <= inner {
				continue
			}
			dst = append(dst, l.grid.Candidates(spatial.CellKey{X: x, Z: z})...)
		}
	}
	return dst
}

func (l *Locator) covers(key spatial.CellKey, ring int) bool {
	return key.X-ring <= 0 && key.Z-ring <= 0 &&
		key.X+ring >= l.grid.Cols()-1 && key.Z+ring >= l.grid.Rows()-1
}

// gap is the Chebyshev distance from key to the nearest grid cell.
func (l *Locator) gap(key spatial.CellKey) int {
	dx := max(0, -key.X, key.X-(l.grid.Cols()-1))
	dz := max(0, -key.Z, key.Z-(l.grid.Rows()-1))
	return max(dx, dz)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

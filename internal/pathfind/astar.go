// Package pathfind searches the triangle adjacency graph for a corridor an
// agent of a given radius can traverse.
package pathfind

import (
	"container/heap"

	"crowdnav/internal/navmesh"
)

// Request describes one search. A zero AreaMask allows every area.
type Request struct {
	Start    navmesh.TriangleID
	Goal     navmesh.TriangleID
	Radius   float64
	AreaMask navmesh.AreaMask
}

// Result is the outcome of a search. An empty corridor means no route.
type Result struct {
	Corridor []navmesh.TriangleID
	Expanded int
}

// Found reports whether the search produced a corridor.
func (r Result) Found() bool {
	return len(r.Corridor) > 0
}

type pathNode struct {
	id navmesh.TriangleID
	g  float64
	f  float64
}

type pathQueue []pathNode

func (pq pathQueue) Len() int { return len(pq) }

func (pq pathQueue) Less(i, j int) bool {
	if pq[i].f != pq[j].f {
		return pq[i].f < pq[j].f
	}
	return pq[i].id < pq[j].id
}

func (pq pathQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *pathQueue) Push(x any) { *pq = append(*pq, x.(pathNode)) }

func (pq *pathQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// Scratch holds the per-search working set. Each agent owns one; a scratch
// must never be shared between concurrent searches.
type Scratch struct {
	open    pathQueue
	gScore  []float64
	parent  []navmesh.TriangleID
	seen    []bool
	closed  []bool
	touched []navmesh.TriangleID
}

// NewScratch sizes a scratch for a mesh with n triangles.
func NewScratch(n int) *Scratch {
	s := &Scratch{}
	s.Resize(n)
	return s
}

// Resize reallocates the scratch when the triangle count changed.
func (s *Scratch) Resize(n int) {
	if len(s.gScore) == n {
		s.reset()
		return
	}
	s.open = s.open[:0]
	s.gScore = make([]float64, n)
	s.parent = make([]navmesh.TriangleID, n)
	s.seen = make([]bool, n)
	s.closed = make([]bool, n)
	s.touched = s.touched[:0]
	for i := range s.parent {
		s.parent[i] = navmesh.NoNeighbor
	}
}

// Len reports the triangle count the scratch is sized for.
func (s *Scratch) Len() int {
	return len(s.gScore)
}

// reset clears only the entries the previous search wrote.
func (s *Scratch) reset() {
	for _, id := range s.touched {
		s.gScore[id] = 0
		s.parent[id] = navmesh.NoNeighbor
		s.seen[id] = false
		s.closed[id] = false
	}
	s.touched = s.touched[:0]
	s.open = s.open[:0]
}

func (s *Scratch) touch(id navmesh.TriangleID) {
	if !s.seen[id] {
		s.seen[id] = true
		s.touched = append(s.touched, id)
	}
}

// Find runs A* from req.Start to req.Goal. Path cost and heuristic are both
// squared centroid distances. An edge is skipped when it is narrower than
// the agent's diameter or when the neighbour's area is not in the mask.
func Find(mesh *navmesh.Mesh, req Request, scratch *Scratch) Result {
	if !mesh.InRange(req.Start) || !mesh.InRange(req.Goal) {
		return Result{}
	}
	if scratch == nil {
		scratch = NewScratch(mesh.TriangleCount())
	} else if scratch.Len() != mesh.TriangleCount() {
		scratch.Resize(mesh.TriangleCount())
	}
	defer scratch.reset()

	if req.Start == req.Goal {
		return Result{Corridor: []navmesh.TriangleID{req.Start}, Expanded: 1}
	}

	mask := req.AreaMask
	if mask == 0 {
		mask = navmesh.AllAreas
	}
	goalCentroid := mesh.Triangles[req.Goal].Centroid
	diameter := 2 * req.Radius
	heuristic := func(id navmesh.TriangleID) float64 {
		d := mesh.Triangles[id].Centroid.Sub(goalCentroid)
		return d.Dot(d)
	}

	scratch.touch(req.Start)
	heap.Push(&scratch.open, pathNode{id: req.Start, g: 0, f: heuristic(req.Start)})

	expanded := 0
	for scratch.open.Len() > 0 {
		current := heap.Pop(&scratch.open).(pathNode)
		if scratch.closed[current.id] {
			continue
		}
		scratch.closed[current.id] = true
		expanded++
		if current.id == req.Goal {
			return Result{Corridor: reconstructCorridor(scratch, req.Start, req.Goal), Expanded: expanded}
		}

		tri := &mesh.Triangles[current.id]
		for slot, next := range tri.Neighbors {
			if next == navmesh.NoNeighbor || scratch.closed[next] {
				continue
			}
			if tri.Widths[slot] < diameter {
				continue
			}
			if !mask.Allows(mesh.Triangles[next].Area) {
				continue
			}
			d := mesh.Triangles[next].Centroid.Sub(tri.Centroid)
			tentativeG := current.g + d.Dot(d)
			if scratch.seen[next] && tentativeG >= scratch.gScore[next] {
				continue
			}
			scratch.touch(next)
			scratch.gScore[next] = tentativeG
			scratch.parent[next] = current.id
			heap.Push(&scratch.open, pathNode{id: next, g: tentativeG, f: tentativeG + heuristic(next)})
		}
	}
	return Result{Expanded: expanded}
}

func reconstructCorridor(scratch *Scratch, start, goal navmesh.TriangleID) []navmesh.TriangleID {
	corridor := make([]navmesh.TriangleID, 0, 8)
	for id := goal; ; id = scratch.parent[id] {
		corridor = append(corridor, id)
		if id == start {
			break
		}
	}
	for i := 0; i < len(corridor)/2; i++ {
		j := len(corridor) - 1 - i
		corridor[i], corridor[j] = corridor[j], corridor[i]
	}
	return corridor
}

package steer

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crowdnav/internal/geom"
)

// NoGroup marks an agent walking alone.
const NoGroup = -1

// Walker is the view of an agent used to form walk groups. Heading must
// be unit length.
type Walker struct {
	Position mgl64.Vec2
	Heading  mgl64.Vec2
	Moving   bool
}

// Groups is the walk group partition of one tick.
type Groups struct {
	// Of maps each walker to its group id or NoGroup.
	Of []int
	// Centroids holds one centroid per group id.
	Centroids []mgl64.Vec2
	// Sizes holds the member count per group id.
	Sizes []int
}

// Centroid returns the centroid of walker i's group.
func (g Groups) Centroid(i int) (mgl64.Vec2, bool) {
	if i < 0 || i >= len(g.Of) || g.Of[i] == NoGroup {
		return mgl64.Vec2{}, false
	}
	return g.Centroids[g.Of[i]], true
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	switch {
	case uf.rank[ra] < uf.rank[rb]:
		uf.parent[ra] = rb
	case uf.rank[ra] > uf.rank[rb]:
		uf.parent[rb] = ra
	default:
		uf.parent[rb] = ra
		uf.rank[ra]++
	}
}

// FormGroups joins moving walkers closer than GroupDistance whose headings
// differ by at most GroupAngle. near lists candidate neighbours of walker i
// into dst; it may return walkers that are too far away. Groups of one
// dissolve.
func (d *Director) FormGroups(walkers []Walker, near func(dst []int, i int) []int) Groups {
	groups := Groups{Of: make([]int, len(walkers))}
	uf := newUnionFind(len(walkers))
	maxDistSq := d.cfg.GroupDistance * d.cfg.GroupDistance
	cosLimit := math.Cos(d.cfg.GroupAngle)
	var candidates []int
	for i, w := range walkers {
		if !w.Moving {
			continue
		}
		candidates = near(candidates[:0], i)
		for _, j := range candidates {
			if j <= i || j >= len(walkers) || !walkers[j].Moving {
				continue
			}
			other := walkers[j]
			if geom.DistSq(w.Position, other.Position) > maxDistSq {
				continue
			}
			if w.Heading.Dot(other.Heading) < cosLimit {
				continue
			}
			uf.union(i, j)
		}
	}

	counts := make(map[int]int)
	for i := range walkers {
		counts[uf.find(i)]++
	}
	ids := make(map[int]int)
	for i, w := range walkers {
		root := uf.find(i)
		if counts[root] < 2 {
			groups.Of[i] = NoGroup
			continue
		}
		id, ok := ids[root]
		if !ok {
			id = len(groups.Centroids)
			ids[root] = id
			groups.Centroids = append(groups.Centroids, mgl64.Vec2{})
			groups.Sizes = append(groups.Sizes, 0)
		}
		groups.Of[i] = id
		groups.Centroids[id] = groups.Centroids[id].Add(w.Position)
		groups.Sizes[id]++
	}
	for id := range groups.Centroids {
		groups.Centroids[id] = groups.Centroids[id].Mul(1 / float64(groups.Sizes[id]))
	}
	return groups
}

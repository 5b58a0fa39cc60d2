package pathfind

import (
	"testing"

	"crowdnav/internal/navmesh"
	"crowdnav/internal/navmesh/navmeshtest"
)

func assertContiguous(t *testing.T, mesh *navmesh.Mesh, corridor []navmesh.TriangleID, radius float64) {
	t.Helper()
	for i := 0; i+1 < len(corridor); i++ {
		slot, ok := mesh.SharedSlot(corridor[i], corridor[i+1])
		if !ok {
			t.Fatalf("corridor breaks between %d and %d", corridor[i], corridor[i+1])
		}
		if w := mesh.Triangles[corridor[i]].Widths[slot]; w < 2*radius {
			t.Fatalf("edge %d->%d has width %.2f below %.2f", corridor[i], corridor[i+1], w, 2*radius)
		}
	}
}

func TestFindSquareSplit(t *testing.T) {
	mesh := navmeshtest.MustBuild(navmeshtest.Square(10))
	result := Find(mesh, Request{Start: 0, Goal: 1, Radius: 0.5}, nil)
	if len(result.Corridor) != 2 || result.Corridor[0] != 0 || result.Corridor[1] != 1 {
		t.Fatalf("expected corridor [0 1], got %v", result.Corridor)
	}
}

func TestFindSameTriangle(t *testing.T) {
	mesh := navmeshtest.MustBuild(navmeshtest.Square(10))
	result := Find(mesh, Request{Start: 1, Goal: 1, Radius: 3}, nil)
	if len(result.Corridor) != 1 || result.Corridor[0] != 1 {
		t.Fatalf("expected corridor [1], got %v", result.Corridor)
	}
}

func TestFindPrunesNarrowChoke(t *testing.T) {
	mesh := navmeshtest.MustBuild(navmeshtest.Hourglass(2))
	for _, tc := range []struct {
		name   string
		radius float64
		found  bool
	}{
		{name: "fits", radius: 0.9, found: true},
		{name: "exact", radius: 1.0, found: true},
		{name: "too-wide", radius: 1.1, found: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			result := Find(mesh, Request{Start: 0, Goal: 5, Radius: tc.radius}, NewScratch(mesh.TriangleCount()))
			if result.Found() != tc.found {
				t.Fatalf("expected found=%v, got corridor %v", tc.found, result.Corridor)
			}
			if tc.found {
				if result.Corridor[0] != 0 || result.Corridor[len(result.Corridor)-1] != 5 {
					t.Fatalf("expected corridor from 0 to 5, got %v", result.Corridor)
				}
				assertContiguous(t, mesh, result.Corridor, tc.radius)
			}
		})
	}
}

func TestFindGridCorridorIsContiguous(t *testing.T) {
	mesh := navmeshtest.MustBuild(navmeshtest.Grid(8, 6, 2))
	scratch := NewScratch(mesh.TriangleCount())
	start := navmeshtest.GridTriangle(8, 0, 0)
	goal := navmeshtest.GridTriangle(8, 7, 5) + 1
	first := Find(mesh, Request{Start: start, Goal: goal, Radius: 0.4}, scratch)
	if !first.Found() {
		t.Fatalf("expected a corridor across the grid")
	}
	assertContiguous(t, mesh, first.Corridor, 0.4)
	seen := make(map[navmesh.TriangleID]struct{})
	for _, id := range first.Corridor {
		if _, dup := seen[id]; dup {
			t.Fatalf("triangle %d repeated in corridor %v", id, first.Corridor)
		}
		seen[id] = struct{}{}
	}
	if first.Expanded < len(first.Corridor) {
		t.Fatalf("expected at least %d expansions, got %d", len(first.Corridor), first.Expanded)
	}

	// A reused scratch yields the same answer.
	second := Find(mesh, Request{Start: start, Goal: goal, Radius: 0.4}, scratch)
	if len(second.Corridor) != len(first.Corridor) {
		t.Fatalf("expected identical corridor on reuse, got %v vs %v", second.Corridor, first.Corridor)
	}
	for i := range first.Corridor {
		if first.Corridor[i] != second.Corridor[i] {
			t.Fatalf("expected identical corridor on reuse, got %v vs %v", second.Corridor, first.Corridor)
		}
	}
}

func TestFindRespectsAreaMask(t *testing.T) {
	desc := navmeshtest.Hourglass(4)
	desc.Areas = []uint8{0, 0, 3, 3, 0, 0}
	mesh := navmeshtest.MustBuild(desc)
	blocked := Find(mesh, Request{Start: 0, Goal: 5, Radius: 0.5, AreaMask: 1 << 0}, nil)
	if blocked.Found() {
		t.Fatalf("expected area 3 to block the corridor, got %v", blocked.Corridor)
	}
	allowed := Find(mesh, Request{Start: 0, Goal: 5, Radius: 0.5, AreaMask: 1<<0 | 1<<3}, nil)
	if !allowed.Found() {
		t.Fatalf("expected corridor when area 3 is allowed")
	}
}

func TestFindDisconnectedFails(t *testing.T) {
	mesh := navmeshtest.MustBuild(navmeshtest.Islands())
	result := Find(mesh, Request{Start: 0, Goal: 1, Radius: 0.1}, nil)
	if result.Found() {
		t.Fatalf("expected no corridor between islands, got %v", result.Corridor)
	}
	if result.Expanded != 1 {
		t.Fatalf("expected one expansion, got %d", result.Expanded)
	}
}

func TestFindRejectsInvalidEndpoints(t *testing.T) {
	mesh := navmeshtest.MustBuild(navmeshtest.Square(4))
	if Find(mesh, Request{Start: navmesh.Unresolved, Goal: 1}, nil).Found() {
		t.Fatalf("expected unresolved start to fail")
	}
	if Find(mesh, Request{Start: 0, Goal: 9}, nil).Found() {
		t.Fatalf("expected out of range goal to fail")
	}
}

func TestScratchResetsBetweenSearches(t *testing.T) {
	mesh := navmeshtest.MustBuild(navmeshtest.Grid(4, 4, 2))
	scratch := NewScratch(mesh.TriangleCount())
	Find(mesh, Request{Start: 0, Goal: 31, Radius: 0.1}, scratch)
	if len(scratch.touched) != 0 || scratch.open.Len() != 0 {
		t.Fatalf("expected scratch to be clean after a search")
	}
	for i := range scratch.closed {
		if scratch.closed[i] || scratch.seen[i] || scratch.parent[i] != navmesh.NoNeighbor {
			t.Fatalf("expected slot %d reset", i)
		}
	}
	small := NewScratch(2)
	Find(mesh, Request{Start: 0, Goal: 31, Radius: 0.1}, small)
	if small.Len() != mesh.TriangleCount() {
		t.Fatalf("expected scratch to grow to %d, got %d", mesh.TriangleCount(), small.Len())
	}
}

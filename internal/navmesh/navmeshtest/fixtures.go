// Package navmeshtest builds small deterministic bakes for tests across
// the navigation packages.
package navmeshtest

import (
	"crowdnav/internal/bake"
	"crowdnav/internal/navmesh"
)

// Square is a size×size square on y=0 split along the 0-2 diagonal into
// triangle 0 (0,1,2) and triangle 1 (0,2,3).
func Square(size float64) bake.Descriptor {
	return bake.Descriptor{
		SceneID: 1,
		Vertices: [][3]float64{
			{0, 0, 0},
			{size, 0, 0},
			{size, 0, size},
			{0, 0, size},
		},
		Triangles: [][3]int32{{0, 1, 2}, {0, 2, 3}},
	}
}

// Grid tiles cols×rows square cells of the given size, each split into two
// triangles. Cell (c, r) owns triangles 2*(r*cols+c) and 2*(r*cols+c)+1.
func Grid(cols, rows int, cell float64) bake.Descriptor {
	desc := bake.Descriptor{SceneID: 2}
	for r := 0; r <= rows; r++ {
		for c := 0; c <= cols; c++ {
			desc.Vertices = append(desc.Vertices, [3]float64{float64(c) * cell, 0, float64(r) * cell})
		}
	}
	stride := int32(cols + 1)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v00 := int32(r)*stride + int32(c)
			v10 := v00 + 1
			v01 := v00 + stride
			v11 := v01 + 1
			desc.Triangles = append(desc.Triangles, [3]int32{v00, v10, v11}, [3]int32{v00, v11, v01})
		}
	}
	return desc
}

// GridTriangle returns the first triangle id of grid cell (c, r).
func GridTriangle(cols, c, r int) navmesh.TriangleID {
	return navmesh.TriangleID(2 * (r*cols + c))
}

// Hourglass lays out three quads along +x: a room tapering from 10 wide at
// x=0 to neck wide at x=10, a straight corridor of width neck up to x=20,
// and a mirrored room out to x=30. Left room triangles are 0 and 1, right
// room triangles are 4 and 5.
func Hourglass(neck float64) bake.Descriptor {
	lo := 5 - neck/2
	hi := 5 + neck/2
	return bake.Descriptor{
		SceneID: 3,
		Vertices: [][3]float64{
			{0, 0, 0}, {0, 0, 10},
			{10, 0, lo}, {10, 0, hi},
			{20, 0, lo}, {20, 0, hi},
			{30, 0, 0}, {30, 0, 10},
		},
		Triangles: [][3]int32{
			{0, 2, 3}, {0, 3, 1},
			{2, 4, 5}, {2, 5, 3},
			{4, 6, 7}, {4, 7, 5},
		},
	}
}

// MustBuild builds a mesh and panics on failure.
func MustBuild(desc bake.Descriptor) *navmesh.Mesh {
	mesh, err := navmesh.Build(desc)
	if err != nil {
		panic(err)
	}
	return mesh
}

// Islands places two unit triangles far apart: triangle 0 at the origin and
// triangle 1 at (20, 20). Most of the floor bounds are uncovered.
func Islands() bake.Descriptor {
	return bake.Descriptor{
		SceneID: 4,
		Vertices: [][3]float64{
			{0, 0, 0}, {1, 0, 0}, {0, 0, 1},
			{20, 0, 20}, {21, 0, 20}, {20, 0, 21},
		},
		Triangles: [][3]int32{{0, 1, 2}, {3, 4, 5}},
	}
}

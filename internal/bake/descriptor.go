// Package bake holds the baked-mesh descriptor handed over by the
// authoring pipeline, together with the codecs used to read it from disk
// or from the bake store.
package bake

import (
	"errors"
	"fmt"
)

// OpenEdge marks an adjacency slot without a neighbour.
const OpenEdge int32 = -1

// DefaultArea is the area tag applied when a descriptor carries none.
const DefaultArea uint8 = 0

// ErrInvalidDescriptor wraps every validation failure.
var ErrInvalidDescriptor = errors.New("invalid bake descriptor")

// Descriptor is the immutable result of a bake. Adjacency slot i of a
// triangle refers to the edge joining corners i and (i+1)%3.
type Descriptor struct {
	SceneID   uint32       `json:"sceneId" msgpack:"sceneId" yaml:"sceneId" jsonschema:"description=Scene the bake belongs to"`
	Vertices  [][3]float64 `json:"vertices" msgpack:"vertices" yaml:"vertices" jsonschema:"required,description=World positions (x y z)"`
	Triangles [][3]int32   `json:"triangles" msgpack:"triangles" yaml:"triangles" jsonschema:"required,description=Vertex indices per triangle"`
	Areas     []uint8      `json:"areas,omitempty" msgpack:"areas,omitempty" yaml:"areas,omitempty" jsonschema:"description=Area tag per triangle (0-31)"`
	Adjacency [][3]int32   `json:"adjacency,omitempty" msgpack:"adjacency,omitempty" yaml:"adjacency,omitempty" jsonschema:"description=Neighbour triangle per edge slot or -1"`
}

// Validate checks index ranges and array lengths.
func (d Descriptor) Validate() error {
	if len(d.Vertices) < 3 {
		return fmt.Errorf("%w: need at least 3 vertices, got %d", ErrInvalidDescriptor, len(d.Vertices))
	}
	if len(d.Triangles) == 0 {
		return fmt.Errorf("%w: no triangles", ErrInvalidDescriptor)
	}
	if len(d.Areas) != 0 && len(d.Areas) != len(d.Triangles) {
		return fmt.Errorf("%w: %d area tags for %d triangles", ErrInvalidDescriptor, len(d.Areas), len(d.Triangles))
	}
	if len(d.Adjacency) != 0 && len(d.Adjacency) != len(d.Triangles) {
		return fmt.Errorf("%w: %d adjacency rows for %d triangles", ErrInvalidDescriptor, len(d.Adjacency), len(d.Triangles))
	}
	vertexCount := int32(len(d.Vertices))
	triangleCount := int32(len(d.Triangles))
	for i, tri := range d.Triangles {
		for _, idx := range tri {
			if idx < 0 || idx >= vertexCount {
				return fmt.Errorf("%w: triangle %d references vertex %d", ErrInvalidDescriptor, i, idx)
			}
		}
		if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
			return fmt.Errorf("%w: triangle %d repeats a vertex", ErrInvalidDescriptor, i)
		}
	}
	for i, row := range d.Adjacency {
		for _, n := range row {
			if n == OpenEdge {
				continue
			}
			if n < 0 || n >= triangleCount || n == int32(i) {
				return fmt.Errorf("%w: triangle %d has neighbour %d", ErrInvalidDescriptor, i, n)
			}
		}
	}
	for i, area := range d.Areas {
		if area >= 32 {
			return fmt.Errorf("%w: triangle %d area %d out of range", ErrInvalidDescriptor, i, area)
		}
	}
	return nil
}

// Area returns the area tag of triangle i.
func (d Descriptor) Area(i int) uint8 {
	if i < 0 || i >= len(d.Areas) {
		return DefaultArea
	}
	return d.Areas[i]
}

package navmesh

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrOutOfRange is returned for edits that name a missing element.
var ErrOutOfRange = errors.New("navmesh element out of range")

// MoveVertex relocates a vertex and flags it changed. Derived triangle
// data is refreshed by the detect-changed stage.
func (m *Mesh) MoveVertex(index int32, pos mgl64.Vec3) error {
	if m == nil || index < 0 || int(index) >= len(m.Vertices) {
		return fmt.Errorf("%w: vertex %d", ErrOutOfRange, index)
	}
	m.Vertices[index].Position = pos
	m.Vertices[index].Changed = true
	return nil
}

// MarkVertexChanged flags a vertex without moving it.
func (m *Mesh) MarkVertexChanged(index int32) error {
	if m == nil || index < 0 || int(index) >= len(m.Vertices) {
		return fmt.Errorf("%w: vertex %d", ErrOutOfRange, index)
	}
	m.Vertices[index].Changed = true
	return nil
}

// SetArea retags a triangle and flags it changed.
func (m *Mesh) SetArea(id TriangleID, area uint8) error {
	if !m.InRange(id) {
		return fmt.Errorf("%w: triangle %d", ErrOutOfRange, id)
	}
	if area >= 32 {
		return fmt.Errorf("%w: area %d", ErrOutOfRange, area)
	}
	m.Triangles[id].Area = area
	m.Triangles[id].Changed = true
	return nil
}

// TriangleDirty reports whether a triangle or any of its corners changed
// since the last clear.
func (m *Mesh) TriangleDirty(id TriangleID) bool {
	tri := &m.Triangles[id]
	if tri.Changed {
		return true
	}
	for _, c := range tri.Corners {
		if m.Vertices[c].Changed {
			return true
		}
	}
	return false
}

// ClearTriangle resets the changed flag of one triangle.
func (m *Mesh) ClearTriangle(id TriangleID) {
	m.Triangles[id].Changed = false
}

// ClearVertex resets the changed flag of one vertex.
func (m *Mesh) ClearVertex(index int32) {
	m.Vertices[index].Changed = false
}

// VertexChanged reports the changed flag of one vertex.
func (m *Mesh) VertexChanged(index int32) bool {
	return m.Vertices[index].Changed
}

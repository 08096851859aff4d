// Package mesh turns a sampled scalar field into a triangle mesh and writes
// it in common interchange formats.
package mesh

import (
	"math"
)

// Mesh is an indexed triangle mesh. Triangles wind counter-clockwise seen
// from the side of higher field values.
type Mesh struct {
	Vertices  [][3]float32
	Triangles [][3]int32
}

// NumVertices returns the vertex count
func (m *Mesh) NumVertices() int { return len(m.Vertices) }

// NumTriangles returns the triangle count
func (m *Mesh) NumTriangles() int { return len(m.Triangles) }

// Bounds returns the axis-aligned bounding box of the vertices
func (m *Mesh) Bounds() (lo, hi [3]float32) {
	if len(m.Vertices) == 0 {
		return lo, hi
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for a := 0; a < 3; a++ {
			lo[a] = min(lo[a], v[a])
			hi[a] = max(hi[a], v[a])
		}
	}
	return lo, hi
}

// Volume returns the signed enclosed volume. It is positive for a closed
// mesh whose triangles face outward.
func (m *Mesh) Volume() float64 {
	var vol float64
	for _, t := range m.Triangles {
		a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
		ax, ay, az := float64(a[0]), float64(a[1]), float64(a[2])
		bx, by, bz := float64(b[0]), float64(b[1]), float64(b[2])
		cx, cy, cz := float64(c[0]), float64(c[1]), float64(c[2])
		vol += ax*(by*cz-bz*cy) - ay*(bx*cz-bz*cx) + az*(bx*cy-by*cx)
	}
	return vol / 6
}

// SurfaceArea returns the total triangle area
func (m *Mesh) SurfaceArea() float64 {
	var area float64
	for _, t := range m.Triangles {
		a, b, c := m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]
		ux, uy, uz := float64(b[0]-a[0]), float64(b[1]-a[1]), float64(b[2]-a[2])
		vx, vy, vz := float64(c[0]-a[0]), float64(c[1]-a[1]), float64(c[2]-a[2])
		nx, ny, nz := uy*vz-uz*vy, uz*vx-ux*vz, ux*vy-uy*vx
		area += math.Sqrt(nx*nx+ny*ny+nz*nz) / 2
	}
	return area
}

// IsClosed reports whether every directed edge is matched by exactly one
// opposite edge, which makes the mesh watertight and consistently oriented.
func (m *Mesh) IsClosed() bool {
	if len(m.Triangles) == 0 {
		return false
	}
	type edge struct{ a, b int32 }
	count := make(map[edge]int, 3*len(m.Triangles))
	for _, t := range m.Triangles {
		for i := 0; i < 3; i++ {
			count[edge{t[i], t[(i+1)%3]}]++
		}
	}
	for e, n := range count {
		if n != 1 || count[edge{e.b, e.a}] != 1 {
			return false
		}
	}
	return true
}

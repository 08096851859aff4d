package mesh

import (
	"github.com/tsawler/go-sdf/field"
)

// box is a half-open index range of grid points on every axis
type box struct {
	lo, hi [3]int
}

// marchingCubes extracts the threshold isosurface from the grid points in b.
// Vertex coordinates are grid indices relative to b.lo. A point is inside
// when its value is below threshold. Vertices are shared per grid edge.
func marchingCubes(g *field.Grid, b box, threshold float32) *Mesh {
	nx, ny, nz := b.hi[0]-b.lo[0], b.hi[1]-b.lo[1], b.hi[2]-b.lo[2]
	out := &Mesh{}
	if nx < 2 || ny < 2 || nz < 2 {
		return out
	}

	value := func(i, j, k int) float32 {
		return g.At(b.lo[0]+i, b.lo[1]+j, b.lo[2]+k)
	}

	vertexOf := make(map[int64]int32)
	edgeVertex := func(i, j, k, e int) int32 {
		ce := cubeEdges[e]
		i0 := i + ce.corner&1
		j0 := j + ce.corner>>1&1
		k0 := k + ce.corner>>2&1
		key := (int64(i0*ny+j0)*int64(nz)+int64(k0))*3 + int64(ce.axis)
		if idx, ok := vertexOf[key]; ok {
			return idx
		}

		i1, j1, k1 := i0, j0, k0
		switch ce.axis {
		case 0:
			i1++
		case 1:
			j1++
		default:
			k1++
		}
		a, c := value(i0, j0, k0), value(i1, j1, k1)
		t := (threshold - a) / (c - a)
		p := [3]float32{float32(i0), float32(j0), float32(k0)}
		p[ce.axis] += t

		idx := int32(len(out.Vertices))
		out.Vertices = append(out.Vertices, p)
		vertexOf[key] = idx
		return idx
	}

	for i := 0; i < nx-1; i++ {
		for j := 0; j < ny-1; j++ {
			for k := 0; k < nz-1; k++ {
				mask := 0
				for c := 0; c < 8; c++ {
					if value(i+c&1, j+c>>1&1, k+c>>2&1) < threshold {
						mask |= 1 << c
					}
				}
				for _, tri := range triTable[mask] {
					out.Triangles = append(out.Triangles, [3]int32{
						edgeVertex(i, j, k, int(tri[0])),
						edgeVertex(i, j, k, int(tri[1])),
						edgeVertex(i, j, k, int(tri[2])),
					})
				}
			}
		}
	}
	return out
}

package mesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsawler/go-sdf/field"
)

// DefaultMaxTriangles is the largest mesh an Extractor accepts
const DefaultMaxTriangles = 1_000_000

// ErrRejected marks an extraction whose result was discarded as degenerate
var ErrRejected = errors.New("mesh rejected")

// RejectedError reports why a mesh was discarded
type RejectedError struct {
	Triangles int
	Limit     int
}

func (e *RejectedError) Error() string {
	if e.Triangles == 0 {
		return "mesh rejected: no triangles"
	}
	return fmt.Sprintf("mesh rejected: %d triangles exceeds limit of %d", e.Triangles, e.Limit)
}

// Unwrap lets errors.Is match ErrRejected
func (e *RejectedError) Unwrap() error { return ErrRejected }

// Extractor samples a field and iso-surfaces it with marching cubes
type Extractor struct {
	Sampler      field.Sampler
	MaxTriangles int // zero means DefaultMaxTriangles
}

// Margin returns the number of grid points cropped from each side at resolution
func Margin(resolution int) (lo, hi int) {
	return resolution / 20, resolution * 19 / 20
}

// Extract samples q over bounds at resolution and returns the threshold
// isosurface in world coordinates. A mesh with no triangles, or with more
// than MaxTriangles, is returned as a *RejectedError.
func (e Extractor) Extract(ctx context.Context, bounds field.Bounds, resolution int, threshold float32, q field.Querier) (*Mesh, error) {
	grid, err := e.Sampler.Sample(ctx, bounds, resolution, q)
	if err != nil {
		return nil, err
	}
	return e.ExtractGrid(grid, threshold)
}

// ExtractGrid iso-surfaces an already sampled grid. Grid points within the
// margin on every side are discarded first, so the surface cannot reach the
// domain boundary.
func (e Extractor) ExtractGrid(g *field.Grid, threshold float32) (*Mesh, error) {
	r := g.Resolution
	lo, hi := Margin(r)
	b := box{lo: [3]int{lo, lo, lo}, hi: [3]int{hi, hi, hi}}

	m := marchingCubes(g, b, threshold)

	limit := e.MaxTriangles
	if limit <= 0 {
		limit = DefaultMaxTriangles
	}
	if n := len(m.Triangles); n == 0 || n > limit {
		return nil, &RejectedError{Triangles: n, Limit: limit}
	}

	scale := [3]float32{}
	for a := 0; a < 3; a++ {
		scale[a] = (g.Bounds.Max[a] - g.Bounds.Min[a]) / float32(r-1)
	}
	offset := float32(lo)
	for i, v := range m.Vertices {
		for a := 0; a < 3; a++ {
			m.Vertices[i][a] = (v[a]+offset)*scale[a] + g.Bounds.Min[a]
		}
	}
	return m, nil
}

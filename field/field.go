// Package field samples a learned scalar field over an axis-aligned box into
// a dense grid, one chunk of query points at a time.
package field

import (
	"context"
	"errors"
	"fmt"
)

// ErrQueryLength is returned when a querier replies with the wrong number of values
var ErrQueryLength = errors.New("query returned wrong number of values")

// Querier evaluates the scalar field at a batch of points, returning one value per point
type Querier interface {
	Query(ctx context.Context, points [][3]float32) ([]float32, error)
}

// QuerierFunc adapts a function to the Querier interface
type QuerierFunc func(ctx context.Context, points [][3]float32) ([]float32, error)

// Query calls f
func (f QuerierFunc) Query(ctx context.Context, points [][3]float32) ([]float32, error) {
	return f(ctx, points)
}

// PointFunc evaluates the field at a single point
type PointFunc func(p [3]float32) float32

// Pointwise wraps a single-point function as a Querier
func Pointwise(fn PointFunc) Querier {
	return QuerierFunc(func(ctx context.Context, points [][3]float32) ([]float32, error) {
		out := make([]float32, len(points))
		for i, p := range points {
			out[i] = fn(p)
		}
		return out, nil
	})
}

// Bounds is an axis-aligned box
type Bounds struct {
	Min [3]float32 `json:"min" koanf:"min"`
	Max [3]float32 `json:"max" koanf:"max"`
}

// CubeBounds returns the box [-r, r]^3
func CubeBounds(r float32) Bounds {
	return Bounds{Min: [3]float32{-r, -r, -r}, Max: [3]float32{r, r, r}}
}

// Validate checks that every axis has positive extent
func (b Bounds) Validate() error {
	for a := 0; a < 3; a++ {
		if !(b.Max[a] > b.Min[a]) {
			return fmt.Errorf("invalid bounds on axis %d: min %g, max %g", a, b.Min[a], b.Max[a])
		}
	}
	return nil
}

// Grid is a dense R×R×R scalar array in x-major order
type Grid struct {
	Resolution int
	Bounds     Bounds
	Values     []float32
}

// NewGrid allocates a zeroed grid
func NewGrid(bounds Bounds, resolution int) *Grid {
	return &Grid{
		Resolution: resolution,
		Bounds:     bounds,
		Values:     make([]float32, resolution*resolution*resolution),
	}
}

// Index returns the flat offset of (i, j, k)
func (g *Grid) Index(i, j, k int) int {
	return (i*g.Resolution+j)*g.Resolution + k
}

// At returns the value at (i, j, k)
func (g *Grid) At(i, j, k int) float32 {
	return g.Values[g.Index(i, j, k)]
}

// Set stores v at (i, j, k)
func (g *Grid) Set(i, j, k int, v float32) {
	g.Values[g.Index(i, j, k)] = v
}

// Position returns the world coordinate of grid point (i, j, k)
func (g *Grid) Position(i, j, k int) [3]float32 {
	return [3]float32{
		Linspace(g.Bounds.Min[0], g.Bounds.Max[0], g.Resolution, i),
		Linspace(g.Bounds.Min[1], g.Bounds.Max[1], g.Resolution, j),
		Linspace(g.Bounds.Min[2], g.Bounds.Max[2], g.Resolution, k),
	}
}

// Range returns the minimum and maximum sampled values
func (g *Grid) Range() (lo, hi float32) {
	if len(g.Values) == 0 {
		return 0, 0
	}
	lo, hi = g.Values[0], g.Values[0]
	for _, v := range g.Values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Linspace returns the i-th of n evenly spaced values from min to max inclusive
func Linspace(min, max float32, n, i int) float32 {
	if n <= 1 {
		return min
	}
	if i == n-1 {
		return max
	}
	step := (float64(max) - float64(min)) / float64(n-1)
	return float32(float64(min) + step*float64(i))
}

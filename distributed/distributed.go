// Package distributed provides the collective operations used to keep
// data-parallel training workers in step.
package distributed

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by collectives on a reducer whose group has shut down
var ErrClosed = errors.New("reducer closed")

// Reducer performs collectives across the workers of a training run. Every
// call is a barrier: it returns only once all workers have made the same call.
// Workers must issue collectives in the same order.
type Reducer interface {
	Rank() int
	WorldSize() int

	// AllReduceMean returns the mean of v over all workers
	AllReduceMean(ctx context.Context, v float64) (float64, error)

	// AllReduceMeanVec returns the element-wise mean of v over all workers
	AllReduceMeanVec(ctx context.Context, v []float32) ([]float32, error)

	// AllGather returns every worker's v concatenated in rank order
	AllGather(ctx context.Context, v []float32) ([]float32, error)
}

// IsMain reports whether r is the worker that owns side effects such as
// checkpoint writes, mesh extraction and metric computation.
func IsMain(r Reducer) bool {
	return r == nil || r.Rank() == 0
}

// Local is the single-worker reducer; every collective returns its input
type Local struct{}

func (Local) Rank() int      { return 0 }
func (Local) WorldSize() int { return 1 }

func (Local) AllReduceMean(_ context.Context, v float64) (float64, error) { return v, nil }

func (Local) AllReduceMeanVec(_ context.Context, v []float32) ([]float32, error) {
	return append([]float32(nil), v...), nil
}

func (Local) AllGather(_ context.Context, v []float32) ([]float32, error) {
	return append([]float32(nil), v...), nil
}

// Op identifies the combination applied to a round of contributions
type Op string

const (
	OpMean   Op = "mean"
	OpGather Op = "gather"
)

// Combine applies op to contributions indexed by rank
func Combine(op Op, contrib [][]float64) ([]float64, error) {
	switch op {
	case OpMean:
		return Mean(contrib)
	case OpGather:
		return Concat(contrib), nil
	default:
		return nil, fmt.Errorf("unknown collective %q", op)
	}
}

// Mean sums contributions element-wise in rank order and divides by their count
func Mean(contrib [][]float64) ([]float64, error) {
	if len(contrib) == 0 {
		return nil, fmt.Errorf("no contributions")
	}
	n := len(contrib[0])
	out := make([]float64, n)
	for rank, c := range contrib {
		if len(c) != n {
			return nil, fmt.Errorf("rank %d contributed %d values, rank 0 contributed %d", rank, len(c), n)
		}
		for i, v := range c {
			out[i] += v
		}
	}
	w := float64(len(contrib))
	for i := range out {
		out[i] /= w
	}
	return out, nil
}

// Concat joins contributions in rank order
func Concat(contrib [][]float64) []float64 {
	total := 0
	for _, c := range contrib {
		total += len(c)
	}
	out := make([]float64, 0, total)
	for _, c := range contrib {
		out = append(out, c...)
	}
	return out
}

// ToFloat64 widens a float32 slice
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// ToFloat32 narrows a float64 slice
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Package dataset generates signed distance samples of analytic shapes
package dataset

import (
	"fmt"
	"math"
	"strings"
)

// Shape is a solid with an exact signed distance: negative inside, zero on
// the surface, positive outside.
type Shape interface {
	Name() string
	Distance(p [3]float32) float32
}

// Sphere centred at Center
type Sphere struct {
	Center [3]float32
	Radius float32
}

func (s Sphere) Name() string { return "sphere" }

func (s Sphere) Distance(p [3]float32) float32 {
	return length(sub(p, s.Center)) - s.Radius
}

// Box is an axis-aligned box with half extents Half
type Box struct {
	Center [3]float32
	Half   [3]float32
}

func (b Box) Name() string { return "box" }

func (b Box) Distance(p [3]float32) float32 {
	var q, outside [3]float32
	for a := 0; a < 3; a++ {
		q[a] = abs(p[a]-b.Center[a]) - b.Half[a]
		outside[a] = max(q[a], 0)
	}
	inside := min(max(q[0], max(q[1], q[2])), 0)
	return length(outside) + inside
}

// Torus lies in the xz plane around the y axis
type Torus struct {
	Center [3]float32
	Major  float32
	Minor  float32
}

func (t Torus) Name() string { return "torus" }

func (t Torus) Distance(p [3]float32) float32 {
	d := sub(p, t.Center)
	ring := float32(math.Hypot(float64(d[0]), float64(d[2]))) - t.Major
	return float32(math.Hypot(float64(ring), float64(d[1]))) - t.Minor
}

// ParseShape returns the default shape of the given kind. All of them fit
// well inside [-1, 1]^3.
func ParseShape(name string) (Shape, error) {
	switch strings.ToLower(name) {
	case "sphere":
		return Sphere{Radius: 0.5}, nil
	case "box":
		return Box{Half: [3]float32{0.5, 0.35, 0.25}}, nil
	case "torus":
		return Torus{Major: 0.5, Minor: 0.2}, nil
	default:
		return nil, fmt.Errorf("unknown shape: %q", name)
	}
}

// Normal estimates the unit gradient of s at p by central differences
func Normal(s Shape, p [3]float32) [3]float32 {
	const h = 1e-3
	var n [3]float32
	for a := 0; a < 3; a++ {
		hi, lo := p, p
		hi[a] += h
		lo[a] -= h
		n[a] = (s.Distance(hi) - s.Distance(lo)) / (2 * h)
	}
	l := length(n)
	if l == 0 {
		return [3]float32{0, 1, 0}
	}
	for a := range n {
		n[a] /= l
	}
	return n
}

// Project moves p onto the surface of s along the distance gradient
func Project(s Shape, p [3]float32) [3]float32 {
	for i := 0; i < 4; i++ {
		d := s.Distance(p)
		if abs(d) < 1e-6 {
			break
		}
		n := Normal(s, p)
		for a := range p {
			p[a] -= d * n[a]
		}
	}
	return p
}

func sub(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func length(v [3]float32) float32 {
	return float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

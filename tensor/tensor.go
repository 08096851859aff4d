// Package tensor holds the host-resident parameter tensors shared by the model,
// the optimizers, the EMA shadow and the checkpoint store.
package tensor

import (
	"fmt"
	"math"
)

// Parameter is a named trainable float32 tensor with its gradient buffer.
// Data and Grad are flat, row-major and always the same length.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewParameter allocates a zeroed parameter of the given shape
func NewParameter(name string, shape ...int) *Parameter {
	size := CalculateSize(shape)
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, size),
		Grad:  make([]float32, size),
	}
}

func (p *Parameter) String() string {
	return fmt.Sprintf("Parameter(name=%s, shape=%v, elements=%d)", p.Name, p.Shape, len(p.Data))
}

// Numel returns the number of elements
func (p *Parameter) Numel() int {
	return len(p.Data)
}

// ZeroGrad clears the gradient buffer, allocating it if needed
func (p *Parameter) ZeroGrad() {
	if len(p.Grad) != len(p.Data) {
		p.Grad = make([]float32, len(p.Data))
		return
	}
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads clears the gradients of every parameter
func ZeroGrads(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// CountElements returns the total element count across params
func CountElements(params []*Parameter) int {
	n := 0
	for _, p := range params {
		n += p.Numel()
	}
	return n
}

// CopyData returns a deep copy of every parameter's data, in order
func CopyData(params []*Parameter) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = append([]float32(nil), p.Data...)
	}
	return out
}

// LoadData overwrites parameter data with the given buffers.
// Buffers must match the parameters one to one in length.
func LoadData(params []*Parameter, data [][]float32) error {
	if len(params) != len(data) {
		return fmt.Errorf("parameter count mismatch: %d parameters, %d buffers", len(params), len(data))
	}
	for i, p := range params {
		if len(p.Data) != len(data[i]) {
			return fmt.Errorf("size mismatch for %s: expected %d elements, got %d", p.Name, len(p.Data), len(data[i]))
		}
	}
	for i, p := range params {
		copy(p.Data, data[i])
	}
	return nil
}

// GradsFinite reports whether every gradient element is finite
func GradsFinite(params []*Parameter) bool {
	for _, p := range params {
		for _, g := range p.Grad {
			f := float64(g)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
	}
	return true
}

// FlattenGrads concatenates all gradients into one buffer
func FlattenGrads(params []*Parameter) []float32 {
	out := make([]float32, 0, CountElements(params))
	for _, p := range params {
		out = append(out, p.Grad...)
	}
	return out
}

// ScatterGrads writes a flat buffer produced by FlattenGrads back into params
func ScatterGrads(params []*Parameter, flat []float32) error {
	if len(flat) != CountElements(params) {
		return fmt.Errorf("gradient buffer has %d elements, parameters need %d", len(flat), CountElements(params))
	}
	offset := 0
	for _, p := range params {
		copy(p.Grad, flat[offset:offset+len(p.Grad)])
		offset += len(p.Grad)
	}
	return nil
}

// CalculateSize calculates the number of elements in a tensor of the given shape
func CalculateSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// ShapesEqual compares two shapes element by element
func ShapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

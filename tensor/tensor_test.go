package tensor

import (
	"math"
	"testing"
)

func TestNewParameter(t *testing.T) {
	p := NewParameter("fc.weight", 4, 3)
	if p.Numel() != 12 {
		t.Fatalf("expected 12 elements, got %d", p.Numel())
	}
	if len(p.Grad) != 12 {
		t.Errorf("expected gradient buffer of 12, got %d", len(p.Grad))
	}
	if !ShapesEqual(p.Shape, []int{4, 3}) {
		t.Errorf("unexpected shape %v", p.Shape)
	}
}

func TestCalculateSize(t *testing.T) {
	tests := []struct {
		shape    []int
		expected int
	}{
		{[]int{8, 2}, 16},
		{[]int{2}, 2},
		{[]int{3, 4, 5}, 60},
		{[]int{}, 0},
	}

	for _, tt := range tests {
		if got := CalculateSize(tt.shape); got != tt.expected {
			t.Errorf("CalculateSize(%v) = %d, expected %d", tt.shape, got, tt.expected)
		}
	}
}

func TestCopyAndLoadData(t *testing.T) {
	a := NewParameter("a", 2)
	b := NewParameter("b", 3)
	a.Data[0], a.Data[1] = 1, 2
	b.Data[2] = 5

	params := []*Parameter{a, b}
	snap := CopyData(params)

	a.Data[0] = 100
	b.Data[2] = -1

	if err := LoadData(params, snap); err != nil {
		t.Fatalf("LoadData failed: %v", err)
	}
	if a.Data[0] != 1 || b.Data[2] != 5 {
		t.Errorf("data not restored: a=%v b=%v", a.Data, b.Data)
	}

	if err := LoadData(params, [][]float32{{1, 2}}); err == nil {
		t.Error("expected error for parameter count mismatch")
	}
	if err := LoadData(params, [][]float32{{1}, {1, 2, 3}}); err == nil {
		t.Error("expected error for size mismatch")
	}
}

func TestFlattenScatterGrads(t *testing.T) {
	a := NewParameter("a", 2)
	b := NewParameter("b", 2)
	a.Grad[0], a.Grad[1] = 1, 2
	b.Grad[0], b.Grad[1] = 3, 4
	params := []*Parameter{a, b}

	flat := FlattenGrads(params)
	if len(flat) != 4 || flat[2] != 3 {
		t.Fatalf("unexpected flat gradients %v", flat)
	}

	for i := range flat {
		flat[i] *= 10
	}
	if err := ScatterGrads(params, flat); err != nil {
		t.Fatalf("ScatterGrads failed: %v", err)
	}
	if a.Grad[1] != 20 || b.Grad[1] != 40 {
		t.Errorf("gradients not scattered: a=%v b=%v", a.Grad, b.Grad)
	}

	if err := ScatterGrads(params, flat[:3]); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestGradsFinite(t *testing.T) {
	p := NewParameter("p", 3)
	if !GradsFinite([]*Parameter{p}) {
		t.Error("zero gradients should be finite")
	}
	p.Grad[1] = float32(math.Inf(1))
	if GradsFinite([]*Parameter{p}) {
		t.Error("expected infinite gradient to be detected")
	}
	p.ZeroGrad()
	p.Grad[2] = float32(math.NaN())
	if GradsFinite([]*Parameter{p}) {
		t.Error("expected NaN gradient to be detected")
	}
}

package optimizer

import (
	"testing"

	"github.com/tsawler/go-sdf/checkpoints"
	"github.com/tsawler/go-sdf/tensor"
)

// TestExtractFloat32Param tests the extractFloat32Param helper function
func TestExtractFloat32Param(t *testing.T) {
	tests := []struct {
		name         string
		params       map[string]interface{}
		key          string
		defaultValue float32
		expected     float32
	}{
		{
			name:         "existing_float64_param",
			params:       map[string]interface{}{"learning_rate": float64(0.01)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.01,
		},
		{
			name:         "existing_float32_param",
			params:       map[string]interface{}{"learning_rate": float32(0.02)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.02,
		},
		{
			name:         "missing_param",
			params:       map[string]interface{}{"beta1": float64(0.9)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.001,
		},
		{
			name:         "wrong_type_param",
			params:       map[string]interface{}{"learning_rate": "0.01"},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.001,
		},
		{
			name:         "zero_value",
			params:       map[string]interface{}{"learning_rate": float64(0.0)},
			key:          "learning_rate",
			defaultValue: 0.001,
			expected:     0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractFloat32Param(tt.params, tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("extractFloat32Param() = %v, want %v", result, tt.expected)
			}
		})
	}
}

// TestExtractBoolParam tests the extractBoolParam helper function
func TestExtractBoolParam(t *testing.T) {
	params := map[string]interface{}{"nesterov": true, "wrong": 1.0}

	if !extractBoolParam(params, "nesterov", false) {
		t.Error("expected true for existing bool param")
	}
	if extractBoolParam(params, "missing", false) {
		t.Error("expected default for missing param")
	}
	if !extractBoolParam(params, "wrong", true) {
		t.Error("expected default for wrong type")
	}
}

// TestExtractUint64Param tests the extractUint64Param helper function
func TestExtractUint64Param(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected uint64
	}{
		{"float64_from_json", float64(1234), 1234},
		{"native_uint64", uint64(77), 77},
		{"int", 5, 5},
		{"negative_float", float64(-3), 9},
		{"string", "12", 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractUint64Param(map[string]interface{}{"step_count": tt.value}, "step_count", 9)
			if got != tt.expected {
				t.Errorf("extractUint64Param(%v) = %d, want %d", tt.value, got, tt.expected)
			}
		})
	}
}

func TestBufferTensor(t *testing.T) {
	p := tensor.NewParameter("layer.weight", 1, 3)
	if bufferTensor(p, nil, "momentum") != nil {
		t.Error("expected nil tensor for nil buffer")
	}

	buf := []float32{1, 2, 3}
	ts := bufferTensor(p, buf, "momentum")
	if ts == nil || ts.Name != "layer.weight" || len(ts.Shape) != 2 || ts.StateType != "momentum" {
		t.Fatalf("unexpected tensor: %+v", ts)
	}
	buf[0] = 100
	if ts.Data[0] != 1 {
		t.Error("extracted tensor should not alias the live buffer")
	}
}

func TestMatchBuffers(t *testing.T) {
	params := []*tensor.Parameter{tensor.NewParameter("w", 2), tensor.NewParameter("b", 1)}
	tensors := func(name, stateType string, n int) []checkpoints.OptimizerTensor {
		return []checkpoints.OptimizerTensor{{Name: name, Data: make([]float32, n), StateType: stateType}}
	}

	idx, err := matchBuffers(params, append(tensors("b", "variance", 1), tensors("w", "momentum", 2)...), "momentum", "variance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx[0] != 1 || idx[1] != 0 {
		t.Errorf("expected buffers matched by name, got %v", idx)
	}

	tests := []struct {
		name string
		data []checkpoints.OptimizerTensor
	}{
		{"unknown_parameter", tensors("missing", "momentum", 2)},
		{"size_mismatch", tensors("w", "momentum", 3)},
		{"unknown_state_type", tensors("w", "velocity", 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := matchBuffers(params, tt.data, "momentum", "variance"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRestoreBuffer(t *testing.T) {
	buf := make([]float32, 2)
	got := restoreBuffer(buf, []float32{4, 5})
	if &got[0] != &buf[0] || buf[1] != 5 {
		t.Errorf("buffer not restored in place: %v", buf)
	}
	if got := restoreBuffer(nil, []float32{1, 2, 3}); len(got) != 3 || got[2] != 3 {
		t.Errorf("nil buffer not allocated: %v", got)
	}
}

// TestValidateStateType tests the validateStateType helper function
func TestValidateStateType(t *testing.T) {
	tests := []struct {
		name          string
		optimizerType string
		state         *OptimizerState
		expectError   bool
	}{
		{"matching_adam", "Adam", &OptimizerState{Type: "Adam"}, false},
		{"matching_sgd", "SGD", &OptimizerState{Type: "SGD"}, false},
		{"mismatched", "Adam", &OptimizerState{Type: "SGD"}, true},
		{"case_sensitive", "Adam", &OptimizerState{Type: "adam"}, true},
		{"nil_state", "Adam", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStateType(tt.optimizerType, tt.state)
			if (err != nil) != tt.expectError {
				t.Errorf("validateStateType() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

// TestOptimizerStateAlias checks the optimizer state is the checkpoint document type
func TestOptimizerStateAlias(t *testing.T) {
	var state *OptimizerState = &checkpoints.OptimizerState{Type: "SGD"}
	if state.Type != "SGD" {
		t.Errorf("unexpected type %s", state.Type)
	}
}

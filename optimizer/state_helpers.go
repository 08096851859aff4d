package optimizer

import (
	"fmt"

	"github.com/tsawler/go-sdf/checkpoints"
	"github.com/tsawler/go-sdf/tensor"
)

// Optimizer state tensors are keyed by the name of the parameter they belong
// to, with StateType telling the buffers of one parameter apart.

// bufferTensor copies buffer into a checkpoint tensor for p. A nil buffer
// (no step taken yet) yields nil.
func bufferTensor(p *tensor.Parameter, buffer []float32, stateType string) *checkpoints.OptimizerTensor {
	if buffer == nil {
		return nil
	}
	return &checkpoints.OptimizerTensor{
		Name:      p.Name,
		Shape:     append([]int(nil), p.Shape...),
		Data:      append([]float32(nil), buffer...),
		StateType: stateType,
	}
}

// matchBuffers resolves every state tensor to the index of its parameter and
// checks its size and type. Nothing is modified, so callers can validate a
// whole state before applying any of it.
func matchBuffers(params []*tensor.Parameter, data []checkpoints.OptimizerTensor, stateTypes ...string) ([]int, error) {
	index := make(map[string]int, len(params))
	for i, p := range params {
		index[p.Name] = i
	}

	out := make([]int, len(data))
	for i, t := range data {
		if !contains(stateTypes, t.StateType) {
			return nil, fmt.Errorf("unknown state type %q for %s", t.StateType, t.Name)
		}
		idx, ok := index[t.Name]
		if !ok {
			return nil, fmt.Errorf("%s state for unknown parameter %q", t.StateType, t.Name)
		}
		if want := params[idx].Numel(); len(t.Data) != want {
			return nil, fmt.Errorf("data size mismatch for %s %s: expected %d elements, got %d",
				t.Name, t.StateType, want, len(t.Data))
		}
		out[i] = idx
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// restoreBuffer returns buffer filled with data, allocating it when nil
func restoreBuffer(buffer, data []float32) []float32 {
	if buffer == nil || len(buffer) != len(data) {
		buffer = make([]float32, len(data))
	}
	copy(buffer, data)
	return buffer
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// number reads a numeric hyperparameter. Values decoded from a checkpoint
// arrive as float64; values from a live GetState keep their Go type.
func number(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	if v, ok := number(params, key); ok {
		return float32(v)
	}
	return defaultValue
}

func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	if v, ok := number(params, key); ok && v >= 0 {
		return uint64(v)
	}
	return defaultValue
}

func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return defaultValue
}

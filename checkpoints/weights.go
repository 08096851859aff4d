package checkpoints

import (
	"fmt"

	"github.com/tsawler/go-sdf/tensor"
)

// WeightsFromParams copies parameter data into weight tensors
func WeightsFromParams(params []*tensor.Parameter) []WeightTensor {
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		weights[i] = WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Data...),
		}
	}
	return weights
}

// ApplyWeights loads weights into params by name. Parameters with no stored
// weight are reported as missing, stored weights with no parameter as
// unexpected; neither is an error. A size mismatch is an error and leaves
// params untouched.
func ApplyWeights(params []*tensor.Parameter, weights []WeightTensor) (missing, unexpected []string, err error) {
	byName := make(map[string]*WeightTensor, len(weights))
	for i := range weights {
		byName[weights[i].Name] = &weights[i]
	}

	matched := make(map[string]bool, len(params))
	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		if len(w.Data) != len(p.Data) {
			return nil, nil, fmt.Errorf("size mismatch for %s: checkpoint has %d elements (shape %v), model has %d (shape %v)",
				p.Name, len(w.Data), w.Shape, len(p.Data), p.Shape)
		}
		matched[p.Name] = true
	}

	for _, p := range params {
		if matched[p.Name] {
			copy(p.Data, byName[p.Name].Data)
		}
	}
	for _, w := range weights {
		if !matched[w.Name] {
			unexpected = append(unexpected, w.Name)
		}
	}
	return missing, unexpected, nil
}

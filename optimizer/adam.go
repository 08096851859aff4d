package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-sdf/checkpoints"
	"github.com/tsawler/go-sdf/tensor"
)

// AdamOptimizerState holds Adam hyperparameters and per-parameter moments
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float32 // L2 regularization coefficient

	MomentumBuffers [][]float32 // First moment for each parameter
	VarianceBuffers [][]float32 // Second moment for each parameter

	// Step tracking for bias correction
	StepCount uint64

	params []*tensor.Parameter
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer over params
func NewAdamOptimizer(config AdamConfig, params []*tensor.Parameter) (*AdamOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}

	adam := &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		MomentumBuffers: make([][]float32, len(params)),
		VarianceBuffers: make([][]float32, len(params)),
		params:          params,
	}
	for i, p := range params {
		adam.MomentumBuffers[i] = make([]float32, p.Numel())
		adam.VarianceBuffers[i] = make([]float32, p.Numel())
	}
	return adam, nil
}

// Step applies one bias-corrected Adam update
func (adam *AdamOptimizerState) Step() error {
	adam.StepCount++

	b1, b2 := float64(adam.Beta1), float64(adam.Beta2)
	t := float64(adam.StepCount)
	biasCorrection1 := 1 - math.Pow(b1, t)
	biasCorrection2 := 1 - math.Pow(b2, t)
	stepSize := float64(adam.LearningRate) / biasCorrection1
	sqrtBC2 := math.Sqrt(biasCorrection2)
	eps := float64(adam.Epsilon)
	wd := float64(adam.WeightDecay)

	for i, p := range adam.params {
		if len(p.Grad) != len(p.Data) {
			return fmt.Errorf("gradient size mismatch for %s: %d vs %d", p.Name, len(p.Grad), len(p.Data))
		}
		m := adam.MomentumBuffers[i]
		v := adam.VarianceBuffers[i]
		for j := range p.Data {
			g := float64(p.Grad[j])
			if wd != 0 {
				g += wd * float64(p.Data[j])
			}
			mj := b1*float64(m[j]) + (1-b1)*g
			vj := b2*float64(v[j]) + (1-b2)*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)

			denom := math.Sqrt(vj)/sqrtBC2 + eps
			p.Data[j] -= float32(stepSize * mj / denom)
		}
	}
	return nil
}

// ZeroGrad clears the gradients of every bound parameter
func (adam *AdamOptimizerState) ZeroGrad() {
	tensor.ZeroGrads(adam.params)
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (adam *AdamOptimizerState) GetLearningRate() float32 {
	return adam.LearningRate
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// AdamStats provides statistics about the Adam optimizer
type AdamStats struct {
	StepCount     uint64
	LearningRate  float32
	Beta1         float32
	Beta2         float32
	Epsilon       float32
	WeightDecay   float32
	NumParameters int
	NumElements   int
}

// GetStats returns optimizer statistics
func (adam *AdamOptimizerState) GetStats() AdamStats {
	return AdamStats{
		StepCount:     adam.StepCount,
		LearningRate:  adam.LearningRate,
		Beta1:         adam.Beta1,
		Beta2:         adam.Beta2,
		Epsilon:       adam.Epsilon,
		WeightDecay:   adam.WeightDecay,
		NumParameters: len(adam.params),
		NumElements:   tensor.CountElements(adam.params),
	}
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, 2*len(adam.params))
	for i, p := range adam.params {
		if t := bufferTensor(p, adam.MomentumBuffers[i], "momentum"); t != nil {
			stateData = append(stateData, *t)
		}
		if t := bufferTensor(p, adam.VarianceBuffers[i], "variance"); t != nil {
			stateData = append(stateData, *t)
		}
	}

	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint. Buffers are validated
// before anything is modified, so a failed load leaves the optimizer as it was.
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}
	indices, err := matchBuffers(adam.params, state.StateData, "momentum", "variance")
	if err != nil {
		return err
	}

	adam.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	for i, t := range state.StateData {
		idx := indices[i]
		if t.StateType == "variance" {
			adam.VarianceBuffers[idx] = restoreBuffer(adam.VarianceBuffers[idx], t.Data)
		} else {
			adam.MomentumBuffers[idx] = restoreBuffer(adam.MomentumBuffers[idx], t.Data)
		}
	}
	return nil
}

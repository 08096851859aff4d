package optimizer

import (
	"fmt"

	"github.com/tsawler/go-sdf/checkpoints"
	"github.com/tsawler/go-sdf/tensor"
)

// SGDOptimizerState holds SGD hyperparameters and momentum buffers
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	MomentumBuffers [][]float32 // Allocated on the first step when momentum > 0

	StepCount uint64

	params []*tensor.Parameter
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer over params
func NewSGDOptimizer(config SGDConfig, params []*tensor.Parameter) (*SGDOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a momentum value > 0")
	}

	return &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		params:       params,
	}, nil
}

// Step applies one SGD update
func (sgd *SGDOptimizerState) Step() error {
	if sgd.Momentum > 0 && sgd.MomentumBuffers == nil {
		sgd.MomentumBuffers = make([][]float32, len(sgd.params))
	}

	for i, p := range sgd.params {
		if len(p.Grad) != len(p.Data) {
			return fmt.Errorf("gradient size mismatch for %s: %d vs %d", p.Name, len(p.Grad), len(p.Data))
		}

		var buf []float32
		first := false
		if sgd.Momentum > 0 {
			if sgd.MomentumBuffers[i] == nil {
				sgd.MomentumBuffers[i] = make([]float32, p.Numel())
				first = true
			}
			buf = sgd.MomentumBuffers[i]
		}

		for j := range p.Data {
			g := p.Grad[j]
			if sgd.WeightDecay != 0 {
				g += sgd.WeightDecay * p.Data[j]
			}
			if buf != nil {
				if first {
					buf[j] = g
				} else {
					buf[j] = sgd.Momentum*buf[j] + g
				}
				if sgd.Nesterov {
					g += sgd.Momentum * buf[j]
				} else {
					g = buf[j]
				}
			}
			p.Data[j] -= sgd.LearningRate * g
		}
	}

	sgd.StepCount++
	return nil
}

// ZeroGrad clears the gradients of every bound parameter
func (sgd *SGDOptimizerState) ZeroGrad() {
	tensor.ZeroGrads(sgd.params)
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float32) {
	sgd.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (sgd *SGDOptimizerState) GetLearningRate() float32 {
	return sgd.LearningRate
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, len(sgd.params))
	if sgd.Momentum > 0 && sgd.MomentumBuffers != nil {
		for i, p := range sgd.params {
			if t := bufferTensor(p, sgd.MomentumBuffers[i], "momentum"); t != nil {
				stateData = append(stateData, *t)
			}
		}
	}

	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	indices, err := matchBuffers(sgd.params, state.StateData, "momentum")
	if err != nil {
		return err
	}

	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	if len(state.StateData) > 0 && sgd.MomentumBuffers == nil {
		sgd.MomentumBuffers = make([][]float32, len(sgd.params))
	}
	for i, t := range state.StateData {
		idx := indices[i]
		sgd.MomentumBuffers[idx] = restoreBuffer(sgd.MomentumBuffers[idx], t.Data)
	}
	return nil
}

package optimizer

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-sdf/checkpoints"
	"github.com/tsawler/go-sdf/tensor"
)

// Optimizer defines the common interface for all optimizers.
// An optimizer is bound to its parameters at construction and reads their
// gradients on every Step.
type Optimizer interface {
	// Step performs a single optimization step using the current gradients
	Step() error

	// ZeroGrad clears the gradients of every bound parameter
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// GetLearningRate returns the current learning rate
	GetLearningRate() float32

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)
}

// OptimizerState represents the complete state of an optimizer
type OptimizerState = checkpoints.OptimizerState

// OptimizerTensor is a single named state buffer
type OptimizerTensor = checkpoints.OptimizerTensor

// Config selects and configures an optimizer
type Config struct {
	Type         string  `koanf:"type" yaml:"type"` // "adam" or "sgd"
	LearningRate float32 `koanf:"lr" yaml:"lr"`
	Beta1        float32 `koanf:"beta1" yaml:"beta1"`
	Beta2        float32 `koanf:"beta2" yaml:"beta2"`
	Epsilon      float32 `koanf:"eps" yaml:"eps"`
	Momentum     float32 `koanf:"momentum" yaml:"momentum"`
	WeightDecay  float32 `koanf:"weight_decay" yaml:"weight_decay"`
	Nesterov     bool    `koanf:"nesterov" yaml:"nesterov"`
}

// New creates the optimizer described by cfg over params
func New(cfg Config, params []*tensor.Parameter) (Optimizer, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "adam":
		ac := DefaultAdamConfig()
		if cfg.LearningRate != 0 {
			ac.LearningRate = cfg.LearningRate
		}
		if cfg.Beta1 != 0 {
			ac.Beta1 = cfg.Beta1
		}
		if cfg.Beta2 != 0 {
			ac.Beta2 = cfg.Beta2
		}
		if cfg.Epsilon != 0 {
			ac.Epsilon = cfg.Epsilon
		}
		ac.WeightDecay = cfg.WeightDecay
		return NewAdamOptimizer(ac, params)
	case "sgd":
		sc := DefaultSGDConfig()
		if cfg.LearningRate != 0 {
			sc.LearningRate = cfg.LearningRate
		}
		sc.Momentum = cfg.Momentum
		sc.WeightDecay = cfg.WeightDecay
		sc.Nesterov = cfg.Nesterov
		return NewSGDOptimizer(sc, params)
	default:
		return nil, fmt.Errorf("unknown optimizer type: %q", cfg.Type)
	}
}

package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-sdf/checkpoints"
	"github.com/tsawler/go-sdf/tensor"
)

// ScalerConfig configures dynamic loss scaling
type ScalerConfig struct {
	Enabled        bool
	InitScale      float64
	GrowthFactor   float64
	BackoffFactor  float64
	GrowthInterval int
}

// DefaultScalerConfig returns the usual dynamic loss scaling settings
func DefaultScalerConfig(enabled bool) ScalerConfig {
	return ScalerConfig{
		Enabled:        enabled,
		InitScale:      65536,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// GradScaler scales the loss before backpropagation and unscales gradients
// before the optimizer step. Steps whose gradients overflow are skipped and
// the scale backs off; after GrowthInterval clean steps it grows again.
// A disabled scaler has a scale of 1 and never skips a step.
type GradScaler struct {
	enabled        bool
	scale          float64
	growthFactor   float64
	backoffFactor  float64
	growthInterval int
	growthTracker  int
}

// NewGradScaler creates a scaler from cfg
func NewGradScaler(cfg ScalerConfig) (*GradScaler, error) {
	if !cfg.Enabled {
		return &GradScaler{scale: 1, growthFactor: 2, backoffFactor: 0.5, growthInterval: 2000}, nil
	}
	if cfg.InitScale <= 0 {
		return nil, fmt.Errorf("initial scale must be positive, got %f", cfg.InitScale)
	}
	if cfg.GrowthFactor <= 1 {
		return nil, fmt.Errorf("growth factor must be greater than 1, got %f", cfg.GrowthFactor)
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		return nil, fmt.Errorf("backoff factor must be in (0, 1), got %f", cfg.BackoffFactor)
	}
	if cfg.GrowthInterval < 1 {
		return nil, fmt.Errorf("growth interval must be at least 1, got %d", cfg.GrowthInterval)
	}
	return &GradScaler{
		enabled:        true,
		scale:          cfg.InitScale,
		growthFactor:   cfg.GrowthFactor,
		backoffFactor:  cfg.BackoffFactor,
		growthInterval: cfg.GrowthInterval,
	}, nil
}

// Enabled reports whether loss scaling is active
func (g *GradScaler) Enabled() bool { return g.enabled }

// Scale returns the factor the loss is multiplied by before backpropagation
func (g *GradScaler) Scale() float64 {
	if !g.enabled {
		return 1
	}
	return g.scale
}

// Unscale divides the gradients of params by the current scale and reports
// whether any of them is not finite.
func (g *GradScaler) Unscale(params []*tensor.Parameter) (foundInf bool) {
	if !g.enabled {
		return false
	}
	inv := float32(1 / g.scale)
	for _, p := range params {
		for i, v := range p.Grad {
			v *= inv
			p.Grad[i] = v
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				foundInf = true
			}
		}
	}
	return foundInf
}

// Update adjusts the scale after a step
func (g *GradScaler) Update(foundInf bool) {
	if !g.enabled {
		return
	}
	if foundInf {
		g.scale *= g.backoffFactor
		g.growthTracker = 0
		return
	}
	g.growthTracker++
	if g.growthTracker >= g.growthInterval {
		g.scale *= g.growthFactor
		g.growthTracker = 0
	}
}

// State captures the scaler for a checkpoint
func (g *GradScaler) State() *checkpoints.ScalerState {
	return &checkpoints.ScalerState{
		Enabled:        g.enabled,
		Scale:          g.scale,
		GrowthFactor:   g.growthFactor,
		BackoffFactor:  g.backoffFactor,
		GrowthInterval: g.growthInterval,
		GrowthTracker:  g.growthTracker,
	}
}

// LoadState restores the scale and growth tracker. A state saved by a
// disabled scaler is ignored, keeping this scaler's initial scale.
func (g *GradScaler) LoadState(state *checkpoints.ScalerState) error {
	if state == nil {
		return fmt.Errorf("scaler state cannot be nil")
	}
	if !state.Enabled || !g.enabled {
		return nil
	}
	if state.Scale <= 0 || math.IsNaN(state.Scale) || math.IsInf(state.Scale, 0) {
		return fmt.Errorf("invalid loss scale %f", state.Scale)
	}
	if state.GrowthTracker < 0 {
		return fmt.Errorf("invalid growth tracker %d", state.GrowthTracker)
	}
	g.scale = state.Scale
	g.growthTracker = state.GrowthTracker
	return nil
}

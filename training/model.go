package training

import (
	"context"

	"github.com/tsawler/go-sdf/field"
	"github.com/tsawler/go-sdf/tensor"
)

// StepOptions controls one forward pass of a Model
type StepOptions struct {
	// Train requests gradients; evaluation passes leave Grad untouched
	Train bool
	// LossScale multiplies the loss before gradients are computed
	LossScale float64
}

// StepResult is what a Model reports for one batch. Loss is unscaled.
type StepResult struct {
	Preds  []float32
	Truths []float32
	Loss   float64
	// Terms holds the named components of Loss, e.g. data_loss and reg_loss
	Terms map[string]float64
}

// Model is a trainable scalar field. Step runs the forward pass and the loss
// on a batch and, when training, accumulates scaled gradients into the
// parameters' Grad buffers.
type Model interface {
	field.Querier
	Parameters() []*tensor.Parameter
	Step(ctx context.Context, batch *Batch, opts StepOptions) (*StepResult, error)
}

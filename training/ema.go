package training

import (
	"fmt"
	"sync"

	"github.com/tsawler/go-sdf/checkpoints"
	"github.com/tsawler/go-sdf/tensor"
)

// EMA keeps an exponential moving average of a set of parameters. While the
// shadow weights are swapped in through WithShadow, every other EMA method
// blocks.
type EMA struct {
	mu         sync.Mutex
	params     []*tensor.Parameter
	shadow     [][]float32
	backup     [][]float32
	decay      float64
	numUpdates int
}

// NewEMA creates an EMA over params, seeded with their current values
func NewEMA(params []*tensor.Parameter, decay float64) (*EMA, error) {
	if decay < 0 || decay > 1 {
		return nil, fmt.Errorf("EMA decay must be in [0, 1], got %f", decay)
	}
	shadow := make([][]float32, len(params))
	for i, p := range params {
		shadow[i] = append([]float32(nil), p.Data...)
	}
	return &EMA{params: params, shadow: shadow, decay: decay}, nil
}

// Decay returns the configured upper bound on the averaging decay
func (e *EMA) Decay() float64 { return e.decay }

// NumUpdates returns how many times Update has run
func (e *EMA) NumUpdates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numUpdates
}

// Update folds the live parameters into the shadow. The effective decay warms
// up as min(decay, (1+n)/(10+n)) over the first updates.
func (e *EMA) Update() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.numUpdates++
	n := float64(e.numUpdates)
	decay := e.decay
	if warm := (1 + n) / (10 + n); warm < decay {
		decay = warm
	}
	rate := float32(1 - decay)
	for i, p := range e.params {
		s := e.shadow[i]
		for j, v := range p.Data {
			s[j] -= rate * (s[j] - v)
		}
	}
}

// WithShadow copies the shadow weights into the live parameters, runs fn and
// restores the live weights, also when fn fails or panics.
func (e *EMA) WithShadow(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store()
	defer e.restore()
	e.copyTo()
	return fn()
}

// CopyTo overwrites the live parameters with the shadow weights for good
func (e *EMA) CopyTo() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.copyTo()
}

func (e *EMA) store() {
	if e.backup == nil {
		e.backup = make([][]float32, len(e.params))
	}
	for i, p := range e.params {
		e.backup[i] = append(e.backup[i][:0], p.Data...)
	}
}

func (e *EMA) copyTo() {
	for i, p := range e.params {
		copy(p.Data, e.shadow[i])
	}
}

func (e *EMA) restore() {
	for i, p := range e.params {
		copy(p.Data, e.backup[i])
	}
}

// Reset reseeds the shadow from the live parameters and restarts warm-up
func (e *EMA) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.params {
		copy(e.shadow[i], p.Data)
	}
	e.numUpdates = 0
}

// Shadow returns a copy of the shadow weights of parameter i
func (e *EMA) Shadow(i int) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float32(nil), e.shadow[i]...)
}

// State captures the EMA for a checkpoint
func (e *EMA) State() *checkpoints.EMAState {
	e.mu.Lock()
	defer e.mu.Unlock()

	shadow := make([]checkpoints.WeightTensor, len(e.params))
	for i, p := range e.params {
		shadow[i] = checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), e.shadow[i]...),
		}
	}
	return &checkpoints.EMAState{
		Decay:      e.decay,
		NumUpdates: e.numUpdates,
		Shadow:     shadow,
	}
}

// LoadState restores an EMA captured by State. Shadow tensors are matched by
// name; on error the EMA is left unchanged.
func (e *EMA) LoadState(state *checkpoints.EMAState) error {
	if state == nil {
		return fmt.Errorf("EMA state cannot be nil")
	}
	if len(state.Shadow) != len(e.params) {
		return fmt.Errorf("EMA shadow count mismatch: expected %d, got %d", len(e.params), len(state.Shadow))
	}
	byName := make(map[string]checkpoints.WeightTensor, len(state.Shadow))
	for _, w := range state.Shadow {
		byName[w.Name] = w
	}
	for _, p := range e.params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("EMA shadow for %s not found", p.Name)
		}
		if len(w.Data) != len(p.Data) {
			return fmt.Errorf("EMA shadow size mismatch for %s: expected %d, got %d", p.Name, len(p.Data), len(w.Data))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.params {
		copy(e.shadow[i], byName[p.Name].Data)
	}
	e.decay = state.Decay
	e.numUpdates = state.NumUpdates
	return nil
}

package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoCheckpoint is returned when a requested checkpoint file does not exist
var ErrNoCheckpoint = errors.New("checkpoint not found")

// Checkpoint is the persisted training document. Model is always present in
// files written by the store; a document without a "model" key is treated as a
// raw weights file on load.
type Checkpoint struct {
	Epoch      int    `json:"epoch"`
	GlobalStep *int   `json:"global_step,omitempty"`
	Stats      *Stats `json:"stats,omitempty"`

	Model []WeightTensor `json:"model"`

	// Present only in full checkpoints
	Optimizer *OptimizerState `json:"optimizer,omitempty"`
	Scheduler *SchedulerState `json:"lr_scheduler,omitempty"`
	Scaler    *ScalerState    `json:"scaler,omitempty"`
	EMA       *EMAState       `json:"ema,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// Stats is the statistics blob carried across resumes
type Stats struct {
	Loss        []float64 `json:"loss"`
	ValidLoss   []float64 `json:"valid_loss"`
	Results     []float64 `json:"results"`
	Checkpoints []string  `json:"checkpoints"`
	BestResult  *float64  `json:"best_result"`
}

// NewStats returns an empty statistics blob
func NewStats() *Stats {
	return &Stats{
		Loss:        []float64{},
		ValidLoss:   []float64{},
		Results:     []float64{},
		Checkpoints: []string{},
	}
}

// LastResult returns the most recent evaluation result
func (s *Stats) LastResult() (float64, bool) {
	if s == nil || len(s.Results) == 0 {
		return 0, false
	}
	return s.Results[len(s.Results)-1], true
}

// Clone returns a deep copy of the blob
func (s *Stats) Clone() *Stats {
	if s == nil {
		return nil
	}
	out := &Stats{
		Loss:        append([]float64{}, s.Loss...),
		ValidLoss:   append([]float64{}, s.ValidLoss...),
		Results:     append([]float64{}, s.Results...),
		Checkpoints: append([]string{}, s.Checkpoints...),
	}
	if s.BestResult != nil {
		b := *s.BestResult
		out.BestResult = &b
	}
	return out
}

// statsJSON is the encoded form of Stats. Non-finite values, such as the loss
// of a diverged epoch, are written as null and read back as NaN.
type statsJSON struct {
	Loss        []*float64 `json:"loss"`
	ValidLoss   []*float64 `json:"valid_loss"`
	Results     []*float64 `json:"results"`
	Checkpoints []string   `json:"checkpoints"`
	BestResult  *float64   `json:"best_result"`
}

func (s Stats) MarshalJSON() ([]byte, error) {
	out := statsJSON{
		Loss:        nullable(s.Loss),
		ValidLoss:   nullable(s.ValidLoss),
		Results:     nullable(s.Results),
		Checkpoints: s.Checkpoints,
	}
	if out.Checkpoints == nil {
		out.Checkpoints = []string{}
	}
	if s.BestResult != nil && finite(*s.BestResult) {
		b := *s.BestResult
		out.BestResult = &b
	}
	return json.Marshal(out)
}

func (s *Stats) UnmarshalJSON(data []byte) error {
	var in statsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Stats{
		Loss:        fromNullable(in.Loss),
		ValidLoss:   fromNullable(in.ValidLoss),
		Results:     fromNullable(in.Results),
		Checkpoints: in.Checkpoints,
		BestResult:  in.BestResult,
	}
	if s.Checkpoints == nil {
		s.Checkpoints = []string{}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nullable(vs []float64) []*float64 {
	out := make([]*float64, len(vs))
	for i := range vs {
		if finite(vs[i]) {
			out[i] = &vs[i]
		}
	}
	return out
}

func fromNullable(vs []*float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	return out
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "variance"
}

// SchedulerState captures a learning rate scheduler and its step counters
type SchedulerState struct {
	Type       string                 `json:"type"`
	StepCount  int                    `json:"step_count"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ScalerState captures the dynamic loss scaler
type ScalerState struct {
	Enabled        bool    `json:"enabled"`
	Scale          float64 `json:"scale"`
	GrowthFactor   float64 `json:"growth_factor"`
	BackoffFactor  float64 `json:"backoff_factor"`
	GrowthInterval int     `json:"growth_interval"`
	GrowthTracker  int     `json:"growth_tracker"`
}

// EMAState captures the exponential moving average shadow weights
type EMAState struct {
	Decay      float64        `json:"decay"`
	NumUpdates int            `json:"num_updates"`
	Shadow     []WeightTensor `json:"shadow"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatJSONZstd
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatJSONZstd:
		return "JSON+zstd"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format, without a leading dot
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatJSONZstd:
		return "json.zst"
	case FormatProto:
		return "pb"
	default:
		return "json"
	}
}

// ParseFormat maps a configuration string to a CheckpointFormat
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "zstd", "json.zst", "json+zstd":
		return FormatJSONZstd, nil
	case "proto", "pb":
		return FormatProto, nil
	default:
		return FormatJSON, fmt.Errorf("unknown checkpoint format: %q", s)
	}
}

// BestMode selects the comparison used to decide whether a result is an improvement
type BestMode int

const (
	BestMin BestMode = iota
	BestMax
)

func (m BestMode) String() string {
	if m == BestMax {
		return "max"
	}
	return "min"
}

// ParseBestMode maps "min" or "max" to a BestMode
func ParseBestMode(s string) (BestMode, error) {
	switch s {
	case "", "min":
		return BestMin, nil
	case "max":
		return BestMax, nil
	default:
		return BestMin, fmt.Errorf("unknown best mode: %q", s)
	}
}

// Improves reports whether candidate strictly improves on best. A missing or
// non-finite best counts as no best at all, as it does after a reload.
func (m BestMode) Improves(candidate float64, best *float64) bool {
	if best == nil || !finite(*best) {
		return true
	}
	if m == BestMax {
		return candidate > *best
	}
	return candidate < *best
}

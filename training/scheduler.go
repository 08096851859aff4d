package training

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-sdf/checkpoints"
)

// LRScheduler defines a learning rate schedule. GetLR is a pure function of
// the number of scheduler steps taken so far.
type LRScheduler interface {
	// GetLR returns the learning rate after epoch scheduler steps
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging and checkpoints
	GetName() string
}

// MetricScheduler is implemented by schedules that react to a monitored value
// instead of the step count.
type MetricScheduler interface {
	LRScheduler
	Step(metric float64, currentLR float64) float64
}

// statefulScheduler is implemented by schedules carrying state beyond the step count
type statefulScheduler interface {
	stateParams() map[string]interface{}
	loadStateParams(params map[string]interface{}) error
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler. A gamma of 1
// keeps the learning rate constant.
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma > 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma > 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces LR when a metric has stopped improving
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Number of epochs with no improvement after which LR will be reduced
	Threshold float64 // Threshold for measuring the new optimum
	Mode      string  // One of "min" or "max"

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min"
	}

	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

// Step checks if LR should be reduced based on metric.
// It is called once per epoch with the epoch's average loss.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	improved := false
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}

	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

func (s *ReduceLROnPlateauScheduler) stateParams() map[string]interface{} {
	return map[string]interface{}{
		"best_metric": s.bestMetric,
		"bad_epochs":  s.badEpochs,
		"current_lr":  s.currentLR,
		"initialized": s.initialized,
	}
}

func (s *ReduceLROnPlateauScheduler) loadStateParams(params map[string]interface{}) error {
	best, err := floatParam(params, "best_metric")
	if err != nil {
		return err
	}
	bad, err := floatParam(params, "bad_epochs")
	if err != nil {
		return err
	}
	lr, err := floatParam(params, "current_lr")
	if err != nil {
		return err
	}
	initialized, ok := params["initialized"].(bool)
	if !ok {
		return fmt.Errorf("invalid initialized parameter")
	}
	s.bestMetric = best
	s.badEpochs = int(bad)
	s.currentLR = lr
	s.initialized = initialized
	return nil
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// SchedulerConfig selects and parameterizes a learning rate schedule
type SchedulerConfig struct {
	Type      string  `koanf:"type" yaml:"type"`
	StepSize  int     `koanf:"step_size" yaml:"step_size"`
	Gamma     float64 `koanf:"gamma" yaml:"gamma"`
	TMax      int     `koanf:"t_max" yaml:"t_max"`
	EtaMin    float64 `koanf:"eta_min" yaml:"eta_min"`
	Factor    float64 `koanf:"factor" yaml:"factor"`
	Patience  int     `koanf:"patience" yaml:"patience"`
	Threshold float64 `koanf:"threshold" yaml:"threshold"`
	Mode      string  `koanf:"mode" yaml:"mode"`
}

// NewLRScheduler builds the schedule named by cfg.Type
func NewLRScheduler(cfg SchedulerConfig) (LRScheduler, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "constant", "constantlr", "none":
		return &NoOpScheduler{}, nil
	case "step", "steplr":
		return NewStepLRScheduler(cfg.StepSize, cfg.Gamma), nil
	case "exponential", "exponentiallr":
		return NewExponentialLRScheduler(cfg.Gamma), nil
	case "cosine", "cosineannealing", "cosineannealinglr":
		return NewCosineAnnealingLRScheduler(cfg.TMax, cfg.EtaMin), nil
	case "plateau", "reducelronplateau":
		return NewReduceLROnPlateauScheduler(cfg.Factor, cfg.Patience, cfg.Threshold, cfg.Mode), nil
	default:
		return nil, fmt.Errorf("unsupported scheduler type: %s", cfg.Type)
	}
}

// LRSetter is the part of an optimizer a Scheduler drives
type LRSetter interface {
	GetLearningRate() float32
	UpdateLearningRate(lr float32)
}

// Scheduler applies an LRScheduler to an optimizer and counts its steps
type Scheduler struct {
	policy    LRScheduler
	opt       LRSetter
	baseLR    float64
	stepCount int
}

// NewScheduler binds policy to opt, taking the optimizer's current learning
// rate as the base rate.
func NewScheduler(policy LRScheduler, opt LRSetter) *Scheduler {
	if policy == nil {
		policy = &NoOpScheduler{}
	}
	return &Scheduler{
		policy: policy,
		opt:    opt,
		baseLR: float64(opt.GetLearningRate()),
	}
}

// NeedsMetric reports whether Step must be given a monitored value
func (s *Scheduler) NeedsMetric() bool {
	_, ok := s.policy.(MetricScheduler)
	return ok
}

// Step advances the schedule by one step. Metric schedules receive metric;
// the others ignore it.
func (s *Scheduler) Step(metric float64) {
	s.stepCount++
	var lr float64
	if m, ok := s.policy.(MetricScheduler); ok {
		lr = m.Step(metric, float64(s.opt.GetLearningRate()))
	} else {
		lr = s.policy.GetLR(s.stepCount, 0, s.baseLR)
	}
	s.opt.UpdateLearningRate(float32(lr))
}

// LR returns the optimizer's current learning rate
func (s *Scheduler) LR() float64 {
	return float64(s.opt.GetLearningRate())
}

// StepCount returns the number of Step calls, including restored ones
func (s *Scheduler) StepCount() int { return s.stepCount }

// Name returns the underlying schedule's name
func (s *Scheduler) Name() string { return s.policy.GetName() }

// State captures the scheduler for a checkpoint
func (s *Scheduler) State() *checkpoints.SchedulerState {
	params := map[string]interface{}{
		"base_lr": s.baseLR,
	}
	if st, ok := s.policy.(statefulScheduler); ok {
		for k, v := range st.stateParams() {
			params[k] = v
		}
	}
	return &checkpoints.SchedulerState{
		Type:       s.policy.GetName(),
		StepCount:  s.stepCount,
		Parameters: params,
	}
}

// LoadState restores a scheduler captured by State. On error the scheduler
// is left unchanged.
func (s *Scheduler) LoadState(state *checkpoints.SchedulerState) error {
	if state == nil {
		return fmt.Errorf("scheduler state cannot be nil")
	}
	if state.Type != s.policy.GetName() {
		return fmt.Errorf("scheduler type mismatch: expected %s, got %s", s.policy.GetName(), state.Type)
	}
	if state.StepCount < 0 {
		return fmt.Errorf("invalid step count %d", state.StepCount)
	}
	baseLR, err := floatParam(state.Parameters, "base_lr")
	if err != nil {
		return err
	}
	if st, ok := s.policy.(statefulScheduler); ok {
		if err := st.loadStateParams(state.Parameters); err != nil {
			return fmt.Errorf("failed to load %s state: %w", state.Type, err)
		}
	}

	s.baseLR = baseLR
	s.stepCount = state.StepCount
	s.opt.UpdateLearningRate(float32(s.policy.GetLR(s.stepCount, 0, s.baseLR)))
	return nil
}

func floatParam(params map[string]interface{}, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("missing %s parameter", key)
	default:
		return 0, fmt.Errorf("invalid %s parameter type %T", key, v)
	}
}

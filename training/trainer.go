package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-sdf/checkpoints"
	"github.com/tsawler/go-sdf/distributed"
	"github.com/tsawler/go-sdf/field"
	"github.com/tsawler/go-sdf/mesh"
	"github.com/tsawler/go-sdf/optimizer"
	"github.com/tsawler/go-sdf/scalars"
	"github.com/tsawler/go-sdf/tensor"
)

// DefaultStepsPerEpochHint approximates the global step of checkpoints that
// did not record one.
const DefaultStepsPerEpochHint = 100

// ErrNoBatches is returned when a loader yields nothing in an epoch
var ErrNoBatches = errors.New("loader yielded no batches")

// Config holds configuration for a training run
type Config struct {
	Name                string   `koanf:"name" yaml:"name"`
	Workspace           string   `koanf:"workspace" yaml:"workspace"`
	EvalInterval        int      `koanf:"eval_interval" yaml:"eval_interval"`
	MaxKeep             int      `koanf:"max_keep_ckpt" yaml:"max_keep_ckpt"`
	UseCheckpoint       string   `koanf:"use_checkpoint" yaml:"use_checkpoint"`
	Format              string   `koanf:"format" yaml:"format"`
	BestMode            string   `koanf:"best_mode" yaml:"best_mode"`
	EMADecay            float64  `koanf:"ema_decay" yaml:"ema_decay"` // zero disables the EMA
	FP16                bool     `koanf:"fp16" yaml:"fp16"`
	SchedulerPerStep    bool     `koanf:"scheduler_update_every_step" yaml:"scheduler_update_every_step"`
	Metrics             []string `koanf:"metrics" yaml:"metrics"`
	UseLossAsMetric     bool     `koanf:"use_loss_as_metric" yaml:"use_loss_as_metric"`
	ReportMetricAtTrain bool     `koanf:"report_metric_at_train" yaml:"report_metric_at_train"`
	Resolution          int      `koanf:"resolution" yaml:"resolution"`
	Threshold           float64  `koanf:"threshold" yaml:"threshold"`
	SampleParallelism   int      `koanf:"sample_parallelism" yaml:"sample_parallelism"`
	StepsPerEpochHint   int      `koanf:"steps_per_epoch_hint" yaml:"steps_per_epoch_hint"`
}

// DefaultConfig returns the settings used when a field is left empty
func DefaultConfig() Config {
	return Config{
		Name:              "sdf",
		Workspace:         "workspace",
		EvalInterval:      1,
		MaxKeep:           2,
		UseCheckpoint:     "latest",
		Format:            "json",
		BestMode:          "min",
		UseLossAsMetric:   true,
		Resolution:        128,
		StepsPerEpochHint: DefaultStepsPerEpochHint,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EvalInterval <= 0 {
		c.EvalInterval = d.EvalInterval
	}
	if c.MaxKeep <= 0 {
		c.MaxKeep = d.MaxKeep
	}
	if c.Resolution <= 0 {
		c.Resolution = d.Resolution
	}
	if c.StepsPerEpochHint <= 0 {
		c.StepsPerEpochHint = d.StepsPerEpochHint
	}
	return c
}

// EvalResult summarizes one evaluation pass. Result and Metrics are only
// filled in on the main worker.
type EvalResult struct {
	Loss    float64
	Result  float64
	Metrics map[string]float64
}

// Trainer runs the epoch loop of a Model: training passes, rotating and best
// checkpoints, periodic evaluation and mesh extraction.
type Trainer struct {
	cfg    Config
	model  Model
	params []*tensor.Parameter

	opt      optimizer.Optimizer
	policy   LRScheduler
	sched    *Scheduler
	scaler   *GradScaler
	ema      *EMA
	metrics  []Metric
	bestMode checkpoints.BestMode

	store     *checkpoints.Store
	reducer   distributed.Reducer
	sink      scalars.Sink
	logger    *slog.Logger
	progress  io.Writer
	extractor mesh.Extractor
	bounds    field.Bounds

	resume ResumePolicy
	state  State
	phase  Phase
}

// Option configures a Trainer
type Option func(*Trainer)

// WithOptimizer replaces the default Adam optimizer. opt must be bound to the
// model's parameters.
func WithOptimizer(opt optimizer.Optimizer) Option {
	return func(t *Trainer) { t.opt = opt }
}

// WithScheduler sets the learning rate schedule
func WithScheduler(policy LRScheduler) Option {
	return func(t *Trainer) { t.policy = policy }
}

// WithReducer makes the trainer one worker of a distributed group
func WithReducer(r distributed.Reducer) Option {
	return func(t *Trainer) { t.reducer = r }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithSink sets where scalars such as the loss and learning rate are recorded
func WithSink(sink scalars.Sink) Option {
	return func(t *Trainer) { t.sink = sink }
}

// WithProgress renders progress bars to w. Nil disables them.
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) { t.progress = w }
}

// WithBounds sets the domain sampled for mesh extraction
func WithBounds(b field.Bounds) Option {
	return func(t *Trainer) { t.bounds = b }
}

// New creates a Trainer and resolves cfg.UseCheckpoint once
func New(cfg Config, model Model, opts ...Option) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	cfg = cfg.withDefaults()
	if cfg.Name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace cannot be empty")
	}

	t := &Trainer{
		cfg:     cfg,
		model:   model,
		params:  model.Parameters(),
		reducer: distributed.Local{},
		sink:    scalars.Nop{},
		logger:  slog.New(slog.DiscardHandler),
		bounds:  field.CubeBounds(1),
		resume:  ParseResumePolicy(cfg.UseCheckpoint),
		state:   NewState(),
		phase:   PhaseUninitialized,
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.bounds.Validate(); err != nil {
		return nil, err
	}

	if t.opt == nil {
		opt, err := optimizer.New(optimizer.Config{Type: "adam", LearningRate: 0.001, WeightDecay: 5e-4}, t.params)
		if err != nil {
			return nil, fmt.Errorf("failed to create optimizer: %w", err)
		}
		t.opt = opt
	}
	t.sched = NewScheduler(t.policy, t.opt)

	scaler, err := NewGradScaler(DefaultScalerConfig(cfg.FP16))
	if err != nil {
		return nil, err
	}
	t.scaler = scaler

	if cfg.EMADecay > 0 {
		ema, err := NewEMA(t.params, cfg.EMADecay)
		if err != nil {
			return nil, err
		}
		t.ema = ema
	}

	if t.metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if t.bestMode, err = checkpoints.ParseBestMode(cfg.BestMode); err != nil {
		return nil, err
	}
	// the loss is always minimized
	if len(t.metrics) == 0 || cfg.UseLossAsMetric {
		t.bestMode = checkpoints.BestMin
	}

	format, err := checkpoints.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	t.store, err = checkpoints.NewStore(checkpoints.StoreConfig{
		Workspace: cfg.Workspace,
		Name:      cfg.Name,
		MaxKeep:   cfg.MaxKeep,
		Format:    format,
		BestMode:  t.bestMode,
	}, t.logger)
	if err != nil {
		return nil, err
	}

	t.extractor = mesh.Extractor{Sampler: field.Sampler{Parallelism: cfg.SampleParallelism}}

	precision := "fp32"
	if cfg.FP16 {
		precision = "fp16"
	}
	t.logger.Info("trainer created",
		"name", cfg.Name,
		"workspace", cfg.Workspace,
		"precision", precision,
		"rank", t.reducer.Rank(),
		"world_size", t.reducer.WorldSize(),
		"parameters", formatParameterCount(tensor.CountElements(t.params)),
		"optimizer", fmt.Sprintf("%T", t.opt),
		"scheduler", t.sched.Name(),
	)

	if err := t.resolveResume(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trainer) resolveResume() error {
	var (
		loaded bool
		err    error
	)
	switch t.resume.Kind {
	case ResumeScratch:
		t.logger.Info("training from scratch")
	case ResumeLatest:
		t.logger.Info("loading latest checkpoint")
		loaded, err = t.LoadCheckpoint("")
	case ResumeBest:
		if _, statErr := os.Stat(t.store.BestPath()); statErr == nil {
			t.logger.Info("loading best checkpoint", "path", t.store.BestPath())
			loaded, err = t.LoadCheckpoint(t.store.BestPath())
		} else {
			t.logger.Warn("best checkpoint not found, loading latest", "path", t.store.BestPath())
			loaded, err = t.LoadCheckpoint("")
		}
	case ResumePath:
		t.logger.Info("loading checkpoint", "path", t.resume.Path)
		loaded, err = t.LoadCheckpoint(t.resume.Path)
	}
	if err != nil {
		return err
	}
	if loaded {
		t.phase = PhaseResumed
	} else {
		t.phase = PhaseFresh
	}
	return nil
}

// Phase returns the lifecycle stage of the trainer
func (t *Trainer) Phase() Phase { return t.phase }

// State returns a copy of the training progress
func (t *Trainer) State() State { return t.state.Clone() }

// Store returns the checkpoint store
func (t *Trainer) Store() *checkpoints.Store { return t.store }

// LearningRate returns the optimizer's current learning rate
func (t *Trainer) LearningRate() float64 { return t.sched.LR() }

func (t *Trainer) isMain() bool { return distributed.IsMain(t.reducer) }

// Train runs epochs state.Epoch+1 through maxEpochs
func (t *Trainer) Train(ctx context.Context, train, valid Loader, maxEpochs int) error {
	if train == nil {
		return fmt.Errorf("training loader cannot be nil")
	}
	if t.state.Epoch >= maxEpochs {
		t.logger.Info("nothing to train", "epoch", t.state.Epoch, "max_epochs", maxEpochs)
	}

	for epoch := t.state.Epoch + 1; epoch <= maxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.state.Epoch = epoch

		if err := t.trainOneEpoch(ctx, train); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		if t.isMain() {
			if _, err := t.SaveCheckpoint(true, false); err != nil {
				return err
			}
		}

		if epoch%t.cfg.EvalInterval == 0 {
			if valid != nil {
				if _, err := t.evaluateOneEpoch(ctx, valid, "valid"); err != nil {
					return fmt.Errorf("epoch %d: %w", epoch, err)
				}
			}
			if t.isMain() {
				if _, err := t.SaveMesh(ctx, "", t.cfg.Resolution); err != nil {
					return err
				}
				if _, err := t.SaveCheckpoint(false, true); err != nil {
					return err
				}
			}
		}
	}

	t.phase = PhaseTerminated
	return t.sink.Flush()
}

// Evaluate runs one pass over loader without updating any training state
// other than the recorded validation loss and result.
func (t *Trainer) Evaluate(ctx context.Context, loader Loader) (*EvalResult, error) {
	res, err := t.evaluateOneEpoch(ctx, loader, "evaluate")
	if err != nil {
		return nil, err
	}
	t.phase = PhaseTerminated
	return res, t.sink.Flush()
}

func (t *Trainer) trainOneEpoch(ctx context.Context, loader Loader) error {
	t.phase = PhaseTraining
	epoch := t.state.Epoch
	t.logger.Info("start training epoch", "epoch", epoch, "lr", t.sched.LR())

	if s, ok := loader.(EpochSetter); ok {
		s.SetEpoch(epoch)
	}
	main := t.isMain()
	if main && t.cfg.ReportMetricAtTrain {
		t.clearMetrics()
	}

	var pb *ProgressBar
	if main {
		pb = NewProgressBar(t.progress, fmt.Sprintf("Epoch %d", epoch), loader.Len())
	}

	loader.Reset()
	t.state.LocalStep = 0
	total := 0.0
	for loader.HasNext() {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := loader.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		t.state.LocalStep++
		t.state.GlobalStep++

		res, err := t.trainStep(ctx, batch)
		if err != nil {
			return err
		}
		total += res.Loss

		if main {
			if t.cfg.ReportMetricAtTrain {
				for _, m := range t.metrics {
					m.Update(res.Preds, res.Truths)
				}
			}
			step := t.state.GlobalStep
			t.addScalar("train/loss", res.Loss, step)
			t.addScalar("train/lr", t.sched.LR(), step)
			for _, name := range sortedKeys(res.Terms) {
				t.addScalar("train/"+name, res.Terms[name], step)
			}

			bar := map[string]float64{"loss": res.Loss, "avg": total / float64(t.state.LocalStep)}
			if t.cfg.SchedulerPerStep {
				bar["lr"] = t.sched.LR()
			}
			pb.Update(t.state.LocalStep, bar)
		}
	}
	if t.state.LocalStep == 0 {
		return ErrNoBatches
	}

	average := total / float64(t.state.LocalStep)
	t.state.Stats.Loss = append(t.state.Stats.Loss, average)

	if main {
		pb.Finish()
		t.addScalar("train/epoch_loss", average, epoch)
		if t.cfg.ReportMetricAtTrain {
			t.reportMetrics(epoch, "train")
		}
	}

	if !t.cfg.SchedulerPerStep {
		t.sched.Step(average)
	}

	t.logger.Info("finished epoch", "epoch", epoch, "loss", average, "steps", t.state.LocalStep)
	return nil
}

// trainStep runs forward and backward on one batch and applies the update
func (t *Trainer) trainStep(ctx context.Context, batch *Batch) (*StepResult, error) {
	t.opt.ZeroGrad()

	res, err := t.model.Step(ctx, batch, StepOptions{Train: true, LossScale: t.scaler.Scale()})
	if err != nil {
		return nil, fmt.Errorf("train step %d: %w", t.state.GlobalStep, err)
	}

	if t.reducer.WorldSize() > 1 {
		avg, err := t.reducer.AllReduceMeanVec(ctx, tensor.FlattenGrads(t.params))
		if err != nil {
			return nil, fmt.Errorf("failed to average gradients: %w", err)
		}
		if err := tensor.ScatterGrads(t.params, avg); err != nil {
			return nil, err
		}
	}

	foundInf := t.scaler.Unscale(t.params)
	if foundInf {
		t.logger.Debug("skipping step with non-finite gradients", "step", t.state.GlobalStep, "scale", t.scaler.Scale())
	} else if err := t.opt.Step(); err != nil {
		return nil, fmt.Errorf("optimizer step %d: %w", t.state.GlobalStep, err)
	}
	t.scaler.Update(foundInf)

	if t.ema != nil {
		t.ema.Update()
	}
	if t.cfg.SchedulerPerStep {
		t.sched.Step(res.Loss)
	}
	return res, nil
}

func (t *Trainer) evaluateOneEpoch(ctx context.Context, loader Loader, prefix string) (*EvalResult, error) {
	t.phase = PhaseEvaluating
	epoch := t.state.Epoch
	t.logger.Info("evaluate", "epoch", epoch)

	main := t.isMain()
	if main {
		t.clearMetrics()
	}
	var pb *ProgressBar
	if main {
		pb = NewProgressBar(t.progress, fmt.Sprintf("Eval %d", epoch), loader.Len())
	}

	loader.Reset()
	steps := 0
	total := 0.0
	for loader.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := loader.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		steps++

		res, err := t.evalStep(ctx, batch)
		if err != nil {
			return nil, err
		}
		loss, preds, truths := res.Loss, res.Preds, res.Truths

		if t.reducer.WorldSize() > 1 {
			if loss, err = t.reducer.AllReduceMean(ctx, loss); err != nil {
				return nil, fmt.Errorf("failed to reduce loss: %w", err)
			}
			if preds, err = t.reducer.AllGather(ctx, preds); err != nil {
				return nil, fmt.Errorf("failed to gather predictions: %w", err)
			}
			if truths, err = t.reducer.AllGather(ctx, truths); err != nil {
				return nil, fmt.Errorf("failed to gather truths: %w", err)
			}
		}
		total += loss

		if main {
			for _, m := range t.metrics {
				m.Update(preds, truths)
			}
			pb.Update(steps, map[string]float64{"loss": loss, "avg": total / float64(steps)})
		}
	}
	if steps == 0 {
		return nil, ErrNoBatches
	}

	average := total / float64(steps)
	t.state.Stats.ValidLoss = append(t.state.Stats.ValidLoss, average)
	out := &EvalResult{Loss: average}

	if main {
		pb.Finish()
		result := average
		if !t.cfg.UseLossAsMetric && len(t.metrics) > 0 {
			result = t.metrics[0].Measure()
		}
		t.state.Stats.Results = append(t.state.Stats.Results, result)
		out.Result = result
		out.Metrics = make(map[string]float64, len(t.metrics))
		for _, m := range t.metrics {
			out.Metrics[m.Name()] = m.Measure()
		}
		t.addScalar(prefix+"/loss", average, epoch)
		t.reportMetrics(epoch, prefix)
	}

	t.logger.Info("evaluate finished", "epoch", epoch, "loss", average)
	return out, nil
}

// evalStep runs the model on batch with the EMA weights swapped in
func (t *Trainer) evalStep(ctx context.Context, batch *Batch) (*StepResult, error) {
	var res *StepResult
	run := func() error {
		var err error
		res, err = t.model.Step(ctx, batch, StepOptions{LossScale: 1})
		return err
	}

	var err error
	if t.ema != nil {
		err = t.ema.WithShadow(run)
	} else {
		err = run()
	}
	if err != nil {
		return nil, fmt.Errorf("eval step: %w", err)
	}
	return res, nil
}

func (t *Trainer) clearMetrics() {
	for _, m := range t.metrics {
		m.Clear()
	}
}

func (t *Trainer) reportMetrics(step int, prefix string) {
	for _, m := range t.metrics {
		t.logger.Info("metric", "phase", prefix, "report", m.Report())
		if err := m.Write(t.sink, step, prefix); err != nil {
			t.logger.Warn("failed to record metric", "metric", m.Name(), "err", err)
		}
		m.Clear()
	}
}

func (t *Trainer) addScalar(tag string, value float64, step int) {
	if err := t.sink.AddScalar(tag, value, step); err != nil {
		t.logger.Warn("failed to record scalar", "tag", tag, "err", err)
	}
}

// SaveCheckpoint writes a rotating checkpoint, or the best checkpoint when
// best is set and the latest result improves on the recorded best.
func (t *Trainer) SaveCheckpoint(full, best bool) (checkpoints.SaveResult, error) {
	snap := checkpoints.Snapshot{
		Epoch:      t.state.Epoch,
		GlobalStep: t.state.GlobalStep,
		Stats:      t.state.Stats,
		Params:     t.params,
		Optimizer:  t.opt,
		Scheduler:  t.sched,
		Scaler:     t.scaler,
	}
	if t.ema != nil {
		snap.EMA = t.ema
	}

	res, err := t.store.Save(snap, full, best)
	if err != nil {
		return res, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	for _, old := range res.Evicted {
		t.logger.Debug("removed old checkpoint", "path", old)
	}
	return res, nil
}

// LoadCheckpoint restores the trainer from path, or from the latest rotating
// checkpoint when path is empty. A missing checkpoint is not an error: the
// model keeps its initial weights and false is returned. Optimizer and
// scheduler states that cannot be applied are skipped with a warning.
func (t *Trainer) LoadCheckpoint(path string) (bool, error) {
	loaded, err := t.store.Load(path)
	if errors.Is(err, checkpoints.ErrNoCheckpoint) {
		t.logger.Warn("checkpoint not found, model randomly initialized", "path", path)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if loaded == nil {
		t.logger.Warn("no checkpoint found, model randomly initialized", "dir", t.store.Dir())
		return false, nil
	}

	missing, unexpected, err := checkpoints.ApplyWeights(t.params, loaded.Model)
	if err != nil {
		return false, fmt.Errorf("failed to load model from %s: %w", loaded.Path, err)
	}
	t.logger.Info("loaded model", "path", loaded.Path)
	if len(missing) > 0 {
		t.logger.Warn("missing keys", "keys", missing)
	}
	if len(unexpected) > 0 {
		t.logger.Warn("unexpected keys", "keys", unexpected)
	}
	if t.ema != nil && loaded.EMA == nil {
		t.ema.Reset()
	}
	if loaded.RawWeights {
		return true, nil
	}

	if t.ema != nil && loaded.EMA != nil {
		if err := t.ema.LoadState(loaded.EMA); err != nil {
			return false, fmt.Errorf("failed to load EMA from %s: %w", loaded.Path, err)
		}
	}

	if loaded.Stats != nil {
		t.state.Stats = loaded.Stats
	} else {
		t.state.Stats = checkpoints.NewStats()
	}
	t.state.Epoch = loaded.Epoch
	if loaded.GlobalStep != nil {
		t.state.GlobalStep = *loaded.GlobalStep
	} else {
		t.state.GlobalStep = loaded.Epoch * t.cfg.StepsPerEpochHint
		t.logger.Warn("checkpoint has no global step, approximating it",
			"epoch", loaded.Epoch, "steps_per_epoch", t.cfg.StepsPerEpochHint, "global_step", t.state.GlobalStep)
	}

	if loaded.Optimizer != nil {
		if err := t.opt.LoadState(loaded.Optimizer); err != nil {
			t.logger.Warn("failed to load optimizer, using default", "err", err)
		} else {
			t.logger.Info("loaded optimizer", "step_count", t.opt.GetStepCount())
		}
	}
	if loaded.Scheduler != nil {
		if err := t.sched.LoadState(loaded.Scheduler); err != nil {
			t.logger.Warn("failed to load scheduler, using default", "err", err)
		} else {
			t.logger.Info("loaded scheduler", "lr", t.sched.LR())
		}
	}
	if loaded.Scaler != nil {
		if err := t.scaler.LoadState(loaded.Scaler); err != nil {
			return false, fmt.Errorf("failed to load scaler from %s: %w", loaded.Path, err)
		}
	}
	return true, nil
}

// SaveMesh extracts the zero level set of the model and writes it to path.
// An empty path means <workspace>/validation/<name>_<epoch>.ply. A
// cross-section of the sampled field is written next to the mesh. A
// degenerate mesh is skipped with a warning and (nil, nil) is returned.
func (t *Trainer) SaveMesh(ctx context.Context, path string, resolution int) (*mesh.Mesh, error) {
	if path == "" {
		path = filepath.Join(t.cfg.Workspace, "validation", fmt.Sprintf("%s_%d.ply", t.cfg.Name, t.state.Epoch))
	}
	if resolution <= 0 {
		resolution = t.cfg.Resolution
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create mesh directory: %w", err)
	}
	t.logger.Info("saving mesh", "path", path, "resolution", resolution)

	grid, err := t.extractor.Sampler.Sample(ctx, t.bounds, resolution, t.model)
	if err != nil {
		return nil, fmt.Errorf("failed to sample field: %w", err)
	}

	slice := strings.TrimSuffix(path, filepath.Ext(path)) + "_slice.png"
	if err := field.WriteSlicePNG(slice, grid); err != nil {
		t.logger.Warn("failed to write field slice", "path", slice, "err", err)
	}

	m, err := t.extractor.ExtractGrid(grid, float32(t.cfg.Threshold))
	if errors.Is(err, mesh.ErrRejected) {
		t.logger.Warn("no valid mesh extracted, skipping save", "err", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.logger.Info("extracted mesh", "vertices", m.NumVertices(), "triangles", m.NumTriangles())

	if err := m.Save(path); err != nil {
		return nil, fmt.Errorf("failed to save mesh: %w", err)
	}
	return m, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tsawler/go-sdf/tensor"
)

const (
	frameworkName    = "go-sdf"
	frameworkVersion = "1.0.0"
)

// StoreConfig configures a checkpoint Store
type StoreConfig struct {
	Workspace string
	Name      string
	MaxKeep   int
	Format    CheckpointFormat
	BestMode  BestMode
}

// OptimizerStater exposes optimizer state for full checkpoints
type OptimizerStater interface {
	GetState() (*OptimizerState, error)
}

// SchedulerStater exposes scheduler state for full checkpoints
type SchedulerStater interface {
	State() *SchedulerState
}

// ScalerStater exposes loss scaler state for full checkpoints
type ScalerStater interface {
	State() *ScalerState
}

// Shadow is an EMA of the model weights. WithShadow runs fn with the shadow
// weights copied into the live parameters and restores them afterwards.
type Shadow interface {
	State() *EMAState
	WithShadow(fn func() error) error
}

// Snapshot is everything the store needs to write one checkpoint. Stats is
// updated in place when a save succeeds.
type Snapshot struct {
	Epoch      int
	GlobalStep int
	Stats      *Stats
	Params     []*tensor.Parameter

	Optimizer OptimizerStater
	Scheduler SchedulerStater
	Scaler    ScalerStater
	EMA       Shadow
}

// SaveResult describes the outcome of a Save call
type SaveResult struct {
	Path    string
	Saved   bool
	Evicted []string
}

// Loaded is a decoded checkpoint. RawWeights is set when the file held only
// model weights, in which case every other field is zero.
type Loaded struct {
	Checkpoint
	Path       string
	RawWeights bool
}

// Store persists rotating and best checkpoints under a workspace
type Store struct {
	workspace string
	ckptDir   string
	name      string
	maxKeep   int
	format    CheckpointFormat
	codec     Codec
	bestMode  BestMode
	logger    *slog.Logger
}

// NewStore creates a store and its checkpoint directory
func NewStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace cannot be empty")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	if cfg.MaxKeep < 1 {
		return nil, fmt.Errorf("max keep must be at least 1, got %d", cfg.MaxKeep)
	}
	codec, err := CodecFor(cfg.Format)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ckptDir := filepath.Join(cfg.Workspace, "checkpoints")
	if err := os.MkdirAll(ckptDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Store{
		workspace: cfg.Workspace,
		ckptDir:   ckptDir,
		name:      cfg.Name,
		maxKeep:   cfg.MaxKeep,
		format:    cfg.Format,
		codec:     codec,
		bestMode:  cfg.BestMode,
		logger:    logger,
	}, nil
}

// Dir returns the rotating checkpoint directory
func (s *Store) Dir() string { return s.ckptDir }

// BestMode returns the comparison used for best saves
func (s *Store) BestMode() BestMode { return s.bestMode }

// BestPath returns the location of the best checkpoint
func (s *Store) BestPath() string {
	return filepath.Join(s.workspace, s.name+"."+s.format.Extension())
}

// EpochPath returns the location of the rotating checkpoint for epoch
func (s *Store) EpochPath(epoch int) string {
	return filepath.Join(s.ckptDir, fmt.Sprintf("%s_ep%04d.%s", s.name, epoch, s.format.Extension()))
}

// Save writes a rotating checkpoint, or a best checkpoint when best is set.
// A best save only happens when the latest result strictly improves on the
// recorded best; otherwise it is a no-op with Saved == false.
func (s *Store) Save(snap Snapshot, full, best bool) (SaveResult, error) {
	if snap.Stats == nil {
		snap.Stats = NewStats()
	}
	if best {
		return s.saveBest(snap, full)
	}
	return s.saveRotating(snap, full)
}

func (s *Store) saveRotating(snap Snapshot, full bool) (SaveResult, error) {
	path := s.EpochPath(snap.Epoch)

	stats := snap.Stats.Clone()
	stats.Checkpoints = append(stats.Checkpoints, path)
	var evicted []string
	for len(stats.Checkpoints) > s.maxKeep {
		evicted = append(evicted, stats.Checkpoints[0])
		stats.Checkpoints = stats.Checkpoints[1:]
	}

	doc, err := s.build(snap, stats, full, emaState(snap, full))
	if err != nil {
		return SaveResult{}, err
	}
	if err := s.write(path, doc); err != nil {
		return SaveResult{}, err
	}

	for _, old := range evicted {
		if old == path {
			continue
		}
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove old checkpoint", "path", old, "error", err)
		}
	}
	snap.Stats.Checkpoints = stats.Checkpoints

	return SaveResult{Path: path, Saved: true, Evicted: evicted}, nil
}

func (s *Store) saveBest(snap Snapshot, full bool) (SaveResult, error) {
	result, ok := snap.Stats.LastResult()
	if !ok {
		s.logger.Warn("no evaluated results found, skip saving best checkpoint")
		return SaveResult{}, nil
	}
	if !s.bestMode.Improves(result, snap.Stats.BestResult) {
		s.logger.Info("result did not improve, keeping best checkpoint",
			"result", result, "best", *snap.Stats.BestResult, "mode", s.bestMode.String())
		return SaveResult{}, nil
	}

	stats := snap.Stats.Clone()
	stats.BestResult = &result
	path := s.BestPath()

	ema := emaState(snap, full)
	save := func() error {
		doc, err := s.build(snap, stats, full, ema)
		if err != nil {
			return err
		}
		return s.write(path, doc)
	}

	var err error
	if snap.EMA != nil {
		err = snap.EMA.WithShadow(save)
	} else {
		err = save()
	}
	if err != nil {
		return SaveResult{}, err
	}

	s.logger.Info("saved best checkpoint", "path", path, "result", result)
	snap.Stats.BestResult = stats.BestResult
	return SaveResult{Path: path, Saved: true}, nil
}

// emaState captures the EMA outside of any shadow swap
func emaState(snap Snapshot, full bool) *EMAState {
	if !full || snap.EMA == nil {
		return nil
	}
	return snap.EMA.State()
}

func (s *Store) build(snap Snapshot, stats *Stats, full bool, ema *EMAState) (*Checkpoint, error) {
	step := snap.GlobalStep
	ckpt := &Checkpoint{
		Epoch:      snap.Epoch,
		GlobalStep: &step,
		Stats:      stats,
		Model:      WeightsFromParams(snap.Params),
		Metadata: CheckpointMetadata{
			Version:   frameworkVersion,
			Framework: frameworkName,
			CreatedAt: time.Now().UTC(),
		},
	}
	if !full {
		return ckpt, nil
	}

	if snap.Optimizer != nil {
		state, err := snap.Optimizer.GetState()
		if err != nil {
			return nil, fmt.Errorf("failed to get optimizer state: %w", err)
		}
		ckpt.Optimizer = state
	}
	if snap.Scheduler != nil {
		ckpt.Scheduler = snap.Scheduler.State()
	}
	if snap.Scaler != nil {
		ckpt.Scaler = snap.Scaler.State()
	}
	ckpt.EMA = ema
	return ckpt, nil
}

func (s *Store) write(path string, ckpt any) error {
	doc, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	data, err := s.codec.Encode(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// SaveWeights writes a raw weights file holding only the parameters
func (s *Store) SaveWeights(path string, params []*tensor.Parameter) error {
	raw := make(map[string]rawWeight, len(params))
	for _, p := range params {
		raw[p.Name] = rawWeight{Shape: p.Shape, Data: p.Data}
	}
	return s.write(path, raw)
}

// LatestPath returns the rotating checkpoint with the highest epoch suffix.
// Zero padding makes this the lexicographic order up to epoch 9999; past
// that the parsed epoch decides, with names as the tie-break.
func (s *Store) LatestPath() (string, error) {
	pattern := filepath.Join(s.ckptDir, s.name+"_ep*."+s.format.Extension())
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(matches) == 0 {
		return "", ErrNoCheckpoint
	}
	sort.Slice(matches, func(i, j int) bool {
		ei, ej := s.epochOf(matches[i]), s.epochOf(matches[j])
		if ei != ej {
			return ei < ej
		}
		return matches[i] < matches[j]
	})
	return matches[len(matches)-1], nil
}

// epochOf parses the epoch of a rotating checkpoint path, or -1
func (s *Store) epochOf(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), "."+s.format.Extension())
	epoch, err := strconv.Atoi(strings.TrimPrefix(base, s.name+"_ep"))
	if err != nil {
		return -1
	}
	return epoch
}

// Load reads a checkpoint. An empty path loads the latest rotating checkpoint;
// if there is none Load logs it and returns nil, nil. A missing explicit path
// returns an error wrapping ErrNoCheckpoint. Undecodable files are errors.
func (s *Store) Load(path string) (*Loaded, error) {
	if path == "" {
		latest, err := s.LatestPath()
		if errors.Is(err, ErrNoCheckpoint) {
			s.logger.Info("no checkpoint found, model randomly initialized", "dir", s.ckptDir)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		path = latest
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, path)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	codec, err := CodecFor(formatForPath(path))
	if err != nil {
		return nil, err
	}
	doc, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}

	loaded, err := decodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	loaded.Path = path
	return loaded, nil
}

type rawWeight struct {
	Shape []int  `json:"shape"`
	Data  floats `json:"data"`
}

func decodeDocument(doc []byte) (*Loaded, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(doc, &keys); err != nil {
		return nil, err
	}

	if _, ok := keys["model"]; ok {
		var ckpt Checkpoint
		if err := json.Unmarshal(doc, &ckpt); err != nil {
			return nil, err
		}
		return &Loaded{Checkpoint: ckpt}, nil
	}

	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		var w rawWeight
		if err := json.Unmarshal(keys[name], &w); err != nil {
			return nil, fmt.Errorf("weight %s: %w", name, err)
		}
		weights = append(weights, WeightTensor{Name: name, Shape: w.Shape, Data: w.Data})
	}
	return &Loaded{Checkpoint: Checkpoint{Model: weights}, RawWeights: true}, nil
}

func formatForPath(path string) CheckpointFormat {
	switch {
	case strings.HasSuffix(path, "."+FormatJSONZstd.Extension()):
		return FormatJSONZstd
	case strings.HasSuffix(path, "."+FormatProto.Extension()):
		return FormatProto
	default:
		return FormatJSON
	}
}

// writeFileAtomic writes to a temporary file in the destination directory,
// syncs it, and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure checkpoint directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to checkpoint: %w", err)
	}
	return nil
}

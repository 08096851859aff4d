package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/tsawler/go-sdf/field"
	"github.com/tsawler/go-sdf/training"
)

// Config selects the shape and how many samples each item holds
type Config struct {
	Shape     string  `koanf:"shape" yaml:"shape"`
	TrainSize int     `koanf:"train_size" yaml:"train_size"`
	ValidSize int     `koanf:"valid_size" yaml:"valid_size"`
	NumSurf   int     `koanf:"num_samples_surf" yaml:"num_samples_surf"`
	NumSpace  int     `koanf:"num_samples_space" yaml:"num_samples_space"`
	SurfNoise float64 `koanf:"surf_noise" yaml:"surf_noise"`
	BatchSize int     `koanf:"batch_size" yaml:"batch_size"` // items per training batch
}

// DefaultConfig mirrors the usual single-shape setup
func DefaultConfig() Config {
	return Config{
		Shape:     "sphere",
		TrainSize: 100,
		ValidSize: 1,
		NumSurf:   20000,
		NumSpace:  10000,
		SurfNoise: 0.01,
		BatchSize: 1,
	}
}

// SDFDataset serves Size items, each a fresh draw of NumSurf points near the
// surface and NumSpace points uniform in [-1, 1]^3. Item idx is a pure
// function of the seed and idx.
type SDFDataset struct {
	shape    Shape
	size     int
	numSurf  int
	numSpace int
	noise    float32
	seed     uint64
}

// New creates a dataset of size items over shape
func New(shape Shape, size, numSurf, numSpace int, noise float64, seed uint64) (*SDFDataset, error) {
	if shape == nil {
		return nil, fmt.Errorf("shape cannot be nil")
	}
	if size <= 0 {
		return nil, fmt.Errorf("size must be positive, got %d", size)
	}
	if numSurf < 0 || numSpace < 0 || numSurf+numSpace == 0 {
		return nil, fmt.Errorf("need a positive number of samples, got %d surface and %d space", numSurf, numSpace)
	}
	if noise < 0 {
		return nil, fmt.Errorf("noise cannot be negative, got %f", noise)
	}
	return &SDFDataset{
		shape:    shape,
		size:     size,
		numSurf:  numSurf,
		numSpace: numSpace,
		noise:    float32(noise),
		seed:     seed,
	}, nil
}

// FromConfig builds the training and validation datasets described by cfg.
// The validation draw uses a different seed stream.
func FromConfig(cfg Config, seed uint64) (train, valid *SDFDataset, err error) {
	shape, err := ParseShape(cfg.Shape)
	if err != nil {
		return nil, nil, err
	}
	train, err = New(shape, cfg.TrainSize, cfg.NumSurf, cfg.NumSpace, cfg.SurfNoise, seed)
	if err != nil {
		return nil, nil, err
	}
	if cfg.ValidSize > 0 {
		valid, err = New(shape, cfg.ValidSize, cfg.NumSurf, cfg.NumSpace, cfg.SurfNoise, seed^0x9e3779b97f4a7c15)
		if err != nil {
			return nil, nil, err
		}
	}
	return train, valid, nil
}

// Shape returns the sampled shape
func (d *SDFDataset) Shape() Shape { return d.shape }

func (d *SDFDataset) Len() int { return d.size }

// Get draws item idx
func (d *SDFDataset) Get(idx int) (*training.Batch, error) {
	if idx < 0 || idx >= d.size {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, d.size)
	}
	rng := rand.New(rand.NewPCG(d.seed, uint64(idx)))
	n := d.numSurf + d.numSpace
	b := &training.Batch{
		Points: make([][3]float32, 0, n),
		SDF:    make([]float32, 0, n),
	}

	for i := 0; i < d.numSurf; i++ {
		p := Project(d.shape, uniform(rng))
		for a := range p {
			p[a] += d.noise * float32(rng.NormFloat64())
		}
		b.Points = append(b.Points, p)
		b.SDF = append(b.SDF, d.shape.Distance(p))
	}
	for i := 0; i < d.numSpace; i++ {
		p := uniform(rng)
		b.Points = append(b.Points, p)
		b.SDF = append(b.SDF, d.shape.Distance(p))
	}
	return b, nil
}

func uniform(rng *rand.Rand) [3]float32 {
	return [3]float32{
		float32(rng.Float64()*2 - 1),
		float32(rng.Float64()*2 - 1),
		float32(rng.Float64()*2 - 1),
	}
}

// Querier exposes the exact distance of shape as a field
func Querier(shape Shape) field.Querier {
	return field.Pointwise(shape.Distance)
}

// WriteSlicePNG renders the ground truth cross-section of shape, sampled at
// resolution over bounds, to path.
func WriteSlicePNG(ctx context.Context, path string, shape Shape, bounds field.Bounds, resolution int) error {
	grid, err := field.Sampler{}.Sample(ctx, bounds, resolution, Querier(shape))
	if err != nil {
		return err
	}
	return field.WriteSlicePNG(path, grid)
}

// Package config loads run configuration from defaults, a YAML file, SDF_
// environment variables and command line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/tsawler/go-sdf/dataset"
	"github.com/tsawler/go-sdf/optimizer"
	"github.com/tsawler/go-sdf/sdfnet"
	"github.com/tsawler/go-sdf/training"
)

// EnvPrefix marks environment variables read by Load. A double underscore
// separates sections: SDF_TRAINER__EMA_DECAY sets trainer.ema_decay.
const EnvPrefix = "SDF_"

// FileName is the resolved configuration written into the workspace
const FileName = "config.yaml"

// DistributedConfig selects the reducer backend
type DistributedConfig struct {
	Backend       string `koanf:"backend" yaml:"backend"` // local or redis
	RedisAddr     string `koanf:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `koanf:"redis_password" yaml:"redis_password"`
	RedisDB       int    `koanf:"redis_db" yaml:"redis_db"`
	Run           string `koanf:"run" yaml:"run"` // shared by every worker of one job
	Rank          int    `koanf:"rank" yaml:"rank"`
	WorldSize     int    `koanf:"world_size" yaml:"world_size"`
}

// MetricsConfig selects where scalars go
type MetricsConfig struct {
	Addr       string `koanf:"addr" yaml:"addr"` // serves /metrics, /healthz and /status when set
	SQLite     bool   `koanf:"sqlite" yaml:"sqlite"`
	Prometheus bool   `koanf:"prometheus" yaml:"prometheus"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
	File   bool   `koanf:"file" yaml:"file"` // also write <workspace>/log_<name>.txt
}

// Config is the complete run configuration
type Config struct {
	Trainer     training.Config          `koanf:"trainer" yaml:"trainer"`
	Data        dataset.Config           `koanf:"data" yaml:"data"`
	Model       sdfnet.Config            `koanf:"model" yaml:"model"`
	Optimizer   optimizer.Config         `koanf:"optimizer" yaml:"optimizer"`
	Scheduler   training.SchedulerConfig `koanf:"scheduler" yaml:"scheduler"`
	Distributed DistributedConfig        `koanf:"distributed" yaml:"distributed"`
	Metrics     MetricsConfig            `koanf:"metrics" yaml:"metrics"`
	Log         LogConfig                `koanf:"log" yaml:"log"`

	Seed   uint64  `koanf:"seed" yaml:"seed"`
	Epochs int     `koanf:"epochs" yaml:"epochs"`
	Bound  float32 `koanf:"bound" yaml:"bound"` // meshes are extracted over [-bound, bound]^3
	Test   bool    `koanf:"test" yaml:"test"`   // skip training, evaluate and extract only
}

// Default returns the built-in configuration
func Default() Config {
	trainer := training.DefaultConfig()
	trainer.Name = "deepsdf"
	trainer.Workspace = filepath.Join("workspace", "deepsdf")
	trainer.EMADecay = 0.95
	trainer.Resolution = 256
	trainer.Metrics = []string{}

	return Config{
		Trainer: trainer,
		Data:    dataset.DefaultConfig(),
		Model:   sdfnet.DefaultConfig(),
		Optimizer: optimizer.Config{
			Type:         "adam",
			LearningRate: 1e-3,
			Beta1:        0.9,
			Beta2:        0.999,
			Epsilon:      1e-15,
			WeightDecay:  1e-6,
		},
		Scheduler: training.SchedulerConfig{
			Type:     "StepLR",
			StepSize: 10,
			Gamma:    1,
		},
		Distributed: DistributedConfig{
			Backend:   "local",
			RedisAddr: "localhost:6379",
			Run:       "sdf",
			WorldSize: 1,
		},
		Metrics: MetricsConfig{SQLite: true},
		Log:     LogConfig{Level: "info", Format: "text", File: true},
		Epochs:  10,
		Bound:   1,
	}
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"name":           "trainer.name",
	"workspace":      "trainer.workspace",
	"use-checkpoint": "trainer.use_checkpoint",
	"format":         "trainer.format",
	"resolution":     "trainer.resolution",
	"fp16":           "trainer.fp16",
	"ema-decay":      "trainer.ema_decay",
	"shape":          "data.shape",
	"lr":             "optimizer.lr",
	"epochs":         "epochs",
	"seed":           "seed",
	"test":           "test",
	"log-level":      "log.level",
	"metrics-addr":   "metrics.addr",
	"backend":        "distributed.backend",
	"redis-addr":     "distributed.redis_addr",
	"rank":           "distributed.rank",
	"world-size":     "distributed.world_size",
}

// RegisterFlags adds the overridable settings to fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("name", d.Trainer.Name, "experiment name")
	fs.String("workspace", d.Trainer.Workspace, "workspace directory")
	fs.String("use-checkpoint", d.Trainer.UseCheckpoint, "scratch, latest, best or a checkpoint path")
	fs.String("format", d.Trainer.Format, "checkpoint format: json, zstd or proto")
	fs.Int("resolution", d.Trainer.Resolution, "mesh extraction resolution")
	fs.Bool("fp16", d.Trainer.FP16, "enable dynamic loss scaling")
	fs.Float64("ema-decay", d.Trainer.EMADecay, "EMA decay, 0 disables")
	fs.String("shape", d.Data.Shape, "training shape: sphere, box or torus")
	fs.Float32("lr", d.Optimizer.LearningRate, "learning rate")
	fs.Int("epochs", d.Epochs, "number of epochs")
	fs.Uint64("seed", d.Seed, "random seed")
	fs.Bool("test", d.Test, "skip training")
	fs.String("log-level", d.Log.Level, "debug, info, warn or error")
	fs.String("metrics-addr", d.Metrics.Addr, "serve metrics on this address")
	fs.String("backend", d.Distributed.Backend, "reducer backend: local or redis")
	fs.String("redis-addr", d.Distributed.RedisAddr, "redis address for the redis backend")
	fs.Int("rank", d.Distributed.Rank, "worker rank")
	fs.Int("world-size", d.Distributed.WorldSize, "number of workers")
}

// Load resolves the configuration. path may be empty. Only flags that were
// explicitly set override the other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults, err := toMap(Default())
	if err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey turns SDF_TRAINER__EMA_DECAY into trainer.ema_decay
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// toMap converts cfg to nested maps keyed like the YAML file
func toMap(cfg Config) (map[string]interface{}, error) {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	var m map[string]interface{}
	if err := yamlv3.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}
	return m, nil
}

// Validate checks settings that cannot be repaired with a default
func (c *Config) Validate() error {
	if c.Trainer.Name == "" {
		return fmt.Errorf("trainer.name cannot be empty")
	}
	if c.Trainer.Workspace == "" {
		return fmt.Errorf("trainer.workspace cannot be empty")
	}
	if c.Epochs < 0 {
		return fmt.Errorf("epochs cannot be negative, got %d", c.Epochs)
	}
	if c.Bound <= 0 {
		return fmt.Errorf("bound must be positive, got %g", c.Bound)
	}
	if c.Data.BatchSize < 1 {
		return fmt.Errorf("data.batch_size must be at least 1, got %d", c.Data.BatchSize)
	}
	switch c.Distributed.Backend {
	case "local":
		if c.Distributed.WorldSize != 1 {
			return fmt.Errorf("the local backend runs a single worker, got world size %d", c.Distributed.WorldSize)
		}
	case "redis":
		if c.Distributed.WorldSize < 1 {
			return fmt.Errorf("distributed.world_size must be at least 1, got %d", c.Distributed.WorldSize)
		}
		if c.Distributed.Rank < 0 || c.Distributed.Rank >= c.Distributed.WorldSize {
			return fmt.Errorf("distributed.rank %d out of range for world size %d", c.Distributed.Rank, c.Distributed.WorldSize)
		}
	default:
		return fmt.Errorf("unknown distributed backend: %q", c.Distributed.Backend)
	}
	return c.Model.Validate()
}

// WriteYAML writes cfg to <workspace>/config.yaml and returns the path
func WriteYAML(cfg *Config) (string, error) {
	if err := os.MkdirAll(cfg.Trainer.Workspace, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	path := filepath.Join(cfg.Trainer.Workspace, FileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

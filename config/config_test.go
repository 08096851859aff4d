package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Trainer, cfg.Trainer)
	assert.Equal(t, d.Data, cfg.Data)
	assert.Equal(t, d.Model, cfg.Model)
	assert.Equal(t, d.Optimizer, cfg.Optimizer)
	assert.Equal(t, d.Scheduler, cfg.Scheduler)
	assert.Equal(t, d.Distributed, cfg.Distributed)
	assert.Equal(t, 10, cfg.Epochs)
	assert.Equal(t, float32(1), cfg.Bound)

	assert.Equal(t, "latest", cfg.Trainer.UseCheckpoint)
	assert.Equal(t, 2, cfg.Trainer.MaxKeep)
	assert.Equal(t, 0.95, cfg.Trainer.EMADecay)
	assert.Equal(t, 20000, cfg.Data.NumSurf)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chair.yaml", `
trainer:
  name: chair
  max_keep_ckpt: 3
  ema_decay: 0.9
  metrics: [mae, rmse]
optimizer:
  lr: 0.01
epochs: 5
`)
	t.Setenv("SDF_TRAINER__EMA_DECAY", "0.5")
	t.Setenv("SDF_EPOCHS", "7")
	t.Setenv("SDF_DATA__SHAPE", "torus")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	flags.String("config", "", "unrelated flag")
	require.NoError(t, flags.Parse([]string{"--epochs=3", "--config=x"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	// file beats defaults, and an unset --name flag does not win
	assert.Equal(t, "chair", cfg.Trainer.Name)
	assert.Equal(t, 3, cfg.Trainer.MaxKeep)
	assert.Equal(t, []string{"mae", "rmse"}, cfg.Trainer.Metrics)
	assert.InDelta(t, 0.01, cfg.Optimizer.LearningRate, 1e-9)
	// env beats file
	assert.Equal(t, 0.5, cfg.Trainer.EMADecay)
	assert.Equal(t, "torus", cfg.Data.Shape)
	// flags beat env
	assert.Equal(t, 3, cfg.Epochs)
	// untouched sections keep their defaults
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"local with workers", "distributed: {world_size: 2}", "local backend"},
		{"rank out of range", "distributed: {backend: redis, world_size: 2, rank: 2}", "out of range"},
		{"unknown backend", "distributed: {backend: mpi}", "unknown distributed backend"},
		{"bad model", "model: {hidden_dim: 0}", "hidden dim"},
		{"empty name", "trainer: {name: ''}", "trainer.name"},
		{"zero batch", "data: {batch_size: 0}", "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "cfg.yaml", tt.content)
			_, err := Load(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Trainer.Workspace = filepath.Join(t.TempDir(), "ws")
	cfg.Trainer.Name = "bunny"
	cfg.Data.Shape = "box"
	cfg.Seed = 42

	path, err := WriteYAML(&cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Trainer.Workspace, FileName), path)

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Trainer, loaded.Trainer)
	assert.Equal(t, cfg.Data, loaded.Data)
	assert.Equal(t, uint64(42), loaded.Seed)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "trainer.ema_decay", envKey("SDF_TRAINER__EMA_DECAY"))
	assert.Equal(t, "epochs", envKey("SDF_EPOCHS"))
}

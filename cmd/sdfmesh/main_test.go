package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-sdf/config"
	"github.com/tsawler/go-sdf/scalars"
	"github.com/tsawler/go-sdf/training"
)

const tinyConfig = `
trainer:
  name: tiny
  ema_decay: 0.9
  resolution: 16
  metrics: [mae]
data:
  shape: sphere
  train_size: 2
  valid_size: 1
  num_samples_surf: 16
  num_samples_space: 16
model:
  latent_dim: 4
  hidden_dim: 8
  num_layers: 3
  skip_layer: 1
  num_freqs: 2
epochs: 2
seed: 7
log:
  file: true
`

func writeConfig(t *testing.T) (cfgPath, workspace string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "tiny.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(tinyConfig), 0644))
	return cfgPath, filepath.Join(dir, "ws")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	t.Log(errOut.String())
	return out.String(), err
}

func TestTrainEvalExtract(t *testing.T) {
	cfgPath, ws := writeConfig(t)
	common := []string{"--config", cfgPath, "--workspace", ws}

	out, err := execute(t, append([]string{"train"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(ws, config.FileName))
	assert.Contains(t, out, "Epoch 2")

	assert.FileExists(t, filepath.Join(ws, config.FileName))
	assert.FileExists(t, filepath.Join(ws, "log_tiny.txt"))
	assert.FileExists(t, filepath.Join(ws, "tiny.json"))
	assert.FileExists(t, filepath.Join(ws, "checkpoints", "tiny_ep0001.json"))
	assert.FileExists(t, filepath.Join(ws, "checkpoints", "tiny_ep0002.json"))
	assert.FileExists(t, filepath.Join(ws, "results", "ground_truth_slice.png"))
	assert.FileExists(t, filepath.Join(ws, ScalarsFile))

	// the resolved config reloads to the same run
	written, err := config.Load(filepath.Join(ws, config.FileName), nil)
	require.NoError(t, err)
	assert.Equal(t, "tiny", written.Trainer.Name)
	assert.Equal(t, ws, written.Trainer.Workspace)

	out, err = execute(t, append([]string{"eval", "--use-checkpoint", "best"}, common...)...)
	require.NoError(t, err)
	for _, want := range []string{"loss", "result", "MAE", "global step"} {
		assert.Contains(t, out, want)
	}

	meshPath := filepath.Join(ws, "tiny.obj")
	out, err = execute(t, append([]string{"extract", "--output", meshPath}, common...)...)
	if err != nil {
		// a barely trained field may not cross zero inside the box
		assert.Contains(t, err.Error(), "no surface")
		return
	}
	assert.Contains(t, out, "Wrote "+meshPath)
	assert.FileExists(t, meshPath)
}

func TestTrainResumesFromLatest(t *testing.T) {
	cfgPath, ws := writeConfig(t)
	common := []string{"--config", cfgPath, "--workspace", ws}

	_, err := execute(t, append([]string{"train", "--epochs", "1"}, common...)...)
	require.NoError(t, err)
	out, err := execute(t, append([]string{"train", "--epochs", "2"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Epoch 2")

	log, err := os.ReadFile(filepath.Join(ws, "log_tiny.txt"))
	require.NoError(t, err)
	runs, loaded := 0, ""
	for _, line := range strings.Split(string(log), "\n") {
		if strings.Contains(line, "trainer created") {
			runs++
		}
		if strings.Contains(line, "loaded model") {
			loaded = line
		}
	}
	assert.Equal(t, 2, runs)
	assert.Contains(t, loaded, "tiny_ep0001.json")
	assert.NoFileExists(t, filepath.Join(ws, "checkpoints", "tiny_ep0003.json"))
}

func TestTestModeSkipsTraining(t *testing.T) {
	cfgPath, ws := writeConfig(t)
	out, err := execute(t, "train", "--config", cfgPath, "--workspace", ws, "--test")
	require.NoError(t, err)
	assert.Contains(t, out, "Epoch 0")
	assert.NoDirExists(t, filepath.Join(ws, "validation"))
	assert.NoFileExists(t, filepath.Join(ws, "checkpoints", "tiny_ep0001.json"))
}

func TestInvalidConfig(t *testing.T) {
	cfgPath, ws := writeConfig(t)
	_, err := execute(t, "train", "--config", cfgPath, "--workspace", ws, "--world-size", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local backend")
	assert.NoDirExists(t, ws)
}

func TestRenderEval(t *testing.T) {
	var buf bytes.Buffer
	renderEval(&buf, training.State{Epoch: 3, GlobalStep: 12}, &training.EvalResult{
		Loss:    0.25,
		Result:  0.125,
		Metrics: map[string]float64{"rmse": 0.5, "mae": 0.125},
	})
	out := buf.String()
	assert.Contains(t, out, "0.250000")
	assert.Contains(t, out, "12")
	assert.Less(t, strings.Index(out, "mae"), strings.Index(out, "rmse"))
}

func TestSessionServesMetrics(t *testing.T) {
	cfgPath, ws := writeConfig(t)
	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)
	cfg.Trainer.Workspace = ws
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Log.File = false
	cfg.Epochs = 1

	s, err := openSession(cfg, sessionOptions{output: io.Discard})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.trainer.Train(context.Background(), s.train, s.valid, cfg.Epochs))

	get := func(path string) *http.Response {
		resp, err := http.Get("http://" + s.addr + path)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	body, err := io.ReadAll(get("/metrics").Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sdf_scalar_value{run="tiny",tag="train/loss"}`)

	var status map[string]any
	require.NoError(t, json.NewDecoder(get("/status").Body).Decode(&status))
	assert.Equal(t, "tiny", status["name"])
	assert.NotEmpty(t, status["scalars"])

	var plot scalars.PlotData
	require.NoError(t, json.NewDecoder(get("/plots/loss").Body).Decode(&plot))
	assert.Equal(t, scalars.TrainingCurves, plot.PlotType)
	names := make([]string, 0, len(plot.Series))
	for _, series := range plot.Series {
		names = append(names, series.Name)
	}
	assert.Contains(t, names, "train/loss")
	assert.Contains(t, names, "valid/loss")

	assert.Equal(t, http.StatusNotFound, get("/plots/roc").StatusCode)
}

package scalars

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AddScalar("loss", 1.5, 0))
	require.NoError(t, m.AddScalar("lr", 0.1, 0))
	require.NoError(t, m.AddScalar("loss", 0.5, 1))

	assert.Equal(t, []float64{1.5, 0.5}, m.Values("loss"))
	assert.Equal(t, []int{0, 1}, m.Steps("loss"))
	assert.Len(t, m.Records(), 3)
	assert.Nil(t, m.Values("missing"))
}

type failingSink struct{ Nop }

func (failingSink) AddScalar(string, float64, int) error { return errors.New("boom") }

func TestMulti(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	multi := Multi{a, failingSink{}, b}

	err := multi.AddScalar("loss", 2, 3)
	assert.EqualError(t, err, "boom")
	// a failing sink does not stop the others
	assert.Equal(t, []float64{2}, a.Values("loss"))
	assert.Equal(t, []float64{2}, b.Values("loss"))

	assert.NoError(t, multi.Flush())
	assert.NoError(t, multi.Close())
}

func TestSQLiteSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalars.db")
	sink, err := OpenSQLite(path, "sphere")
	require.NoError(t, err)
	require.NotEmpty(t, sink.RunID())

	require.NoError(t, sink.AddScalar("loss", 0.75, 2))
	require.NoError(t, sink.AddScalar("loss", 1.25, 1))
	require.NoError(t, sink.AddScalar("loss", math.NaN(), 3))
	require.NoError(t, sink.AddScalar("lr", 1e-3, 1))

	series, err := sink.Series("loss")
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, 1, series[0].Step)
	assert.Equal(t, 1.25, series[0].Value)
	assert.Equal(t, 0.75, series[1].Value)
	assert.True(t, math.IsNaN(series[2].Value))

	runID := sink.RunID()
	require.NoError(t, sink.Close())

	// the data survives reopening, and a second run gets its own id
	again, err := OpenSQLite(path, "sphere")
	require.NoError(t, err)
	assert.NotEqual(t, runID, again.RunID())
	require.NoError(t, again.Close())

	lr, err := ReadSeries(path, runID, "lr")
	require.NoError(t, err)
	require.Len(t, lr, 1)
	assert.Equal(t, 1e-3, lr[0].Value)
}

func TestSQLiteSinkBatchFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalars.db")
	sink, err := OpenSQLite(path, "batch")
	require.NoError(t, err)
	sink.batch = 4

	for i := 0; i < 4; i++ {
		require.NoError(t, sink.AddScalar("loss", float64(i), i))
	}
	assert.Empty(t, sink.pending)

	series, err := ReadSeries(path, sink.RunID(), "loss")
	require.NoError(t, err)
	assert.Len(t, series, 4)
	require.NoError(t, sink.Close())
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg, "sphere")
	require.NoError(t, err)

	require.NoError(t, sink.AddScalar("loss", 0.5, 10))
	require.NoError(t, sink.AddScalar("loss", 0.25, 11))

	assert.Equal(t, 0.25, testutil.ToFloat64(sink.values.WithLabelValues("loss")))
	assert.Equal(t, 11.0, testutil.ToFloat64(sink.steps.WithLabelValues("loss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.updates.WithLabelValues("loss")))

	// registering twice on the same registry fails
	_, err = NewPrometheusSink(reg, "sphere")
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg, "sphere")
	require.NoError(t, err)
	require.NoError(t, sink.AddScalar("loss", 0.5, 1))

	srv := httptest.NewServer(NewHandler(reg, func() any {
		return map[string]any{"epoch": 3}
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, 3.0, status["epoch"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sdf_scalar_value{run="sphere",tag="loss"} 0.5`)
}


func TestBuildPlot(t *testing.T) {
	records := []Record{
		{Tag: "train/loss", Value: 1, Step: 1},
		{Tag: "train/lr", Value: 0.01, Step: 1},
		{Tag: "train/loss", Value: math.NaN(), Step: 2},
		{Tag: "train/loss", Value: 0.5, Step: 3},
		{Tag: "valid/loss", Value: 0.75, Step: 1},
		{Tag: "train/epoch_loss", Value: 0.8, Step: 1},
		{Tag: "valid/MAE", Value: 0.1, Step: 1},
	}

	plot, err := BuildPlot(TrainingCurves, "sphere", records)
	require.NoError(t, err)
	assert.Equal(t, "Training Curves - sphere", plot.Title)
	require.Len(t, plot.Series, 3)
	assert.Equal(t, "train/epoch_loss", plot.Series[0].Name)
	assert.Equal(t, "train/loss", plot.Series[1].Name)
	assert.Equal(t, []DataPoint{{X: 1, Y: 1}, {X: 3, Y: 0.5}}, plot.Series[1].Data)
	assert.Equal(t, "valid/loss", plot.Series[2].Name)

	plot, err = BuildPlot(LearningRateSchedule, "sphere", records)
	require.NoError(t, err)
	require.Len(t, plot.Series, 1)
	assert.Equal(t, "log", plot.Config.YAxisScale)

	_, err = BuildPlot("histogram", "sphere", records)
	assert.Error(t, err)
}

func TestParsePlotType(t *testing.T) {
	tests := []struct {
		in   string
		want PlotType
	}{
		{"loss", TrainingCurves},
		{"training_curves", TrainingCurves},
		{"LR", LearningRateSchedule},
	}
	for _, tt := range tests {
		got, err := ParsePlotType(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParsePlotType("roc")
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AddScalar("train/loss", 1, 1))
	require.NoError(t, m.AddScalar("train/lr", 0.1, 1))
	require.NoError(t, m.AddScalar("train/loss", 0.5, 2))

	latest := Latest(m.Records())
	require.Len(t, latest, 2)
	assert.Equal(t, "train/loss", latest[0].Tag)
	assert.Equal(t, 0.5, latest[0].Value)
	assert.Equal(t, 2, latest[0].Step)
	assert.Equal(t, "train/lr", latest[1].Tag)
}

func TestHandlerPlots(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AddScalar("train/lr", 0.1, 1))
	require.NoError(t, m.AddScalar("train/lr", 0.05, 2))

	srv := httptest.NewServer(NewHandler(prometheus.NewRegistry(), nil, WithPlots("sphere", m.Records)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/plots/lr")
	require.NoError(t, err)
	var plot PlotData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&plot))
	resp.Body.Close()
	assert.Equal(t, LearningRateSchedule, plot.PlotType)
	require.Len(t, plot.Series, 1)
	assert.Len(t, plot.Series[0].Data, 2)

	resp, err = http.Get(srv.URL + "/plots/roc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// without WithPlots the route does not exist
	plain := httptest.NewServer(NewHandler(prometheus.NewRegistry(), nil))
	defer plain.Close()
	resp, err = http.Get(plain.URL + "/plots/lr")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

package scalars

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// PlotType represents the plots that can be built from recorded scalars
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
)

// PlotData is a chart description that a plotting frontend can draw directly
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name string      `json:"name"`
	Type string      `json:"type"` // "line" or "scatter"
	Data []DataPoint `json:"data"`
}

// DataPoint is one (step, value) pair
type DataPoint struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	XAxisScale string `json:"x_axis_scale"` // "linear", "log"
	YAxisScale string `json:"y_axis_scale"`
	ShowLegend bool   `json:"show_legend"`
}

// ParsePlotType maps a URL or flag value to a PlotType
func ParsePlotType(s string) (PlotType, error) {
	switch PlotType(strings.ToLower(s)) {
	case TrainingCurves, "loss":
		return TrainingCurves, nil
	case LearningRateSchedule, "lr":
		return LearningRateSchedule, nil
	default:
		return "", fmt.Errorf("unknown plot type: %q", s)
	}
}

// BuildPlot renders records as the plot of type pt. Non-finite values are
// dropped since they cannot be drawn.
func BuildPlot(pt PlotType, model string, records []Record) (PlotData, error) {
	switch pt {
	case TrainingCurves:
		return PlotData{
			PlotType:  TrainingCurves,
			Title:     fmt.Sprintf("Training Curves - %s", model),
			Timestamp: time.Now(),
			ModelName: model,
			Series:    seriesFor(records, "/loss", "train/epoch_loss"),
			Config: PlotConfig{
				XAxisLabel: "Step",
				YAxisLabel: "Loss",
				XAxisScale: "linear",
				YAxisScale: "log",
				ShowLegend: true,
			},
		}, nil
	case LearningRateSchedule:
		return PlotData{
			PlotType:  LearningRateSchedule,
			Title:     fmt.Sprintf("Learning Rate Schedule - %s", model),
			Timestamp: time.Now(),
			ModelName: model,
			Series:    seriesFor(records, "train/lr"),
			Config: PlotConfig{
				XAxisLabel: "Step",
				YAxisLabel: "Learning Rate",
				XAxisScale: "linear",
				YAxisScale: "log",
				ShowLegend: true,
			},
		}, nil
	default:
		return PlotData{}, fmt.Errorf("unknown plot type: %q", pt)
	}
}

// seriesFor builds one line per tag that equals or ends with one of the
// patterns, ordered by tag.
func seriesFor(records []Record, patterns ...string) []SeriesData {
	byTag := make(map[string]*SeriesData)
	for _, r := range records {
		if !matchesAny(r.Tag, patterns) || math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			continue
		}
		s, ok := byTag[r.Tag]
		if !ok {
			s = &SeriesData{Name: r.Tag, Type: "line"}
			byTag[r.Tag] = s
		}
		s.Data = append(s.Data, DataPoint{X: r.Step, Y: r.Value})
	}

	out := make([]SeriesData, 0, len(byTag))
	for _, s := range byTag {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func matchesAny(tag string, patterns []string) bool {
	for _, p := range patterns {
		if tag == p || (strings.HasPrefix(p, "/") && strings.HasSuffix(tag, p)) {
			return true
		}
	}
	return false
}

// Latest returns the most recent record of every tag, ordered by tag
func Latest(records []Record) []Record {
	latest := make(map[string]Record)
	for _, r := range records {
		latest[r.Tag] = r
	}
	out := make([]Record, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

package training

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-sdf/scalars"
)

// MetricType represents the regression metrics reported during evaluation
type MetricType int

const (
	MAE MetricType = iota
	MSE
	RMSE
	R2
	NMAE
)

func (mt MetricType) String() string {
	switch mt {
	case MAE:
		return "MAE"
	case MSE:
		return "MSE"
	case RMSE:
		return "RMSE"
	case R2:
		return "R2"
	case NMAE:
		return "NMAE"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ParseMetricType maps a metric name to its type, ignoring case
func ParseMetricType(s string) (MetricType, error) {
	switch strings.ToUpper(s) {
	case "MAE", "L1":
		return MAE, nil
	case "MSE":
		return MSE, nil
	case "RMSE":
		return RMSE, nil
	case "R2", "R²":
		return R2, nil
	case "NMAE":
		return NMAE, nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", s)
	}
}

// RegressionMetrics holds comprehensive regression evaluation metrics
type RegressionMetrics struct {
	MAE  float64 // Mean Absolute Error
	MSE  float64 // Mean Squared Error
	RMSE float64 // Root Mean Squared Error
	R2   float64 // R-squared
	NMAE float64 // Normalized Mean Absolute Error
}

// Get returns the value of metric mt
func (m *RegressionMetrics) Get(mt MetricType) float64 {
	switch mt {
	case MAE:
		return m.MAE
	case MSE:
		return m.MSE
	case RMSE:
		return m.RMSE
	case R2:
		return m.R2
	case NMAE:
		return m.NMAE
	default:
		return math.NaN()
	}
}

// CalculateRegressionMetrics computes comprehensive regression metrics over
// the first min(len(predictions), len(trueValues)) pairs.
func CalculateRegressionMetrics(predictions []float32, trueValues []float32) *RegressionMetrics {
	n := len(predictions)
	if len(trueValues) < n {
		n = len(trueValues)
	}
	if n == 0 {
		return &RegressionMetrics{}
	}

	meanTrue := 0.0
	for i := 0; i < n; i++ {
		meanTrue += float64(trueValues[i])
	}
	meanTrue /= float64(n)

	sumAbsErr := 0.0
	sumSqErr := 0.0
	sumSqTotal := 0.0
	minTrue := math.Inf(1)
	maxTrue := math.Inf(-1)

	for i := 0; i < n; i++ {
		pred := float64(predictions[i])
		truth := float64(trueValues[i])

		diff := pred - truth
		sumAbsErr += math.Abs(diff)
		sumSqErr += diff * diff
		sumSqTotal += (truth - meanTrue) * (truth - meanTrue)

		minTrue = math.Min(minTrue, truth)
		maxTrue = math.Max(maxTrue, truth)
	}

	mae := sumAbsErr / float64(n)
	mse := sumSqErr / float64(n)

	r2 := 0.0
	if sumSqTotal > 0 {
		r2 = 1.0 - (sumSqErr / sumSqTotal)
	}

	// Normalized MAE (scale by range)
	nmae := 0.0
	if maxTrue > minTrue {
		nmae = mae / (maxTrue - minTrue)
	}

	return &RegressionMetrics{
		MAE:  mae,
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		R2:   r2,
		NMAE: nmae,
	}
}

// Metric accumulates predictions over an evaluation pass
type Metric interface {
	Name() string
	Update(preds, truths []float32)
	Measure() float64
	Report() string
	Write(sink scalars.Sink, step int, prefix string) error
	Clear()
}

// RegressionMetric accumulates prediction pairs and measures one MetricType
type RegressionMetric struct {
	Type   MetricType
	preds  []float32
	truths []float32
}

// NewMetrics builds one RegressionMetric per name
func NewMetrics(names []string) ([]Metric, error) {
	out := make([]Metric, 0, len(names))
	for _, name := range names {
		mt, err := ParseMetricType(name)
		if err != nil {
			return nil, err
		}
		out = append(out, &RegressionMetric{Type: mt})
	}
	return out, nil
}

func (m *RegressionMetric) Name() string { return m.Type.String() }

func (m *RegressionMetric) Update(preds, truths []float32) {
	n := len(preds)
	if len(truths) < n {
		n = len(truths)
	}
	m.preds = append(m.preds, preds[:n]...)
	m.truths = append(m.truths, truths[:n]...)
}

func (m *RegressionMetric) Measure() float64 {
	return CalculateRegressionMetrics(m.preds, m.truths).Get(m.Type)
}

func (m *RegressionMetric) Report() string {
	return fmt.Sprintf("%s = %.6f", m.Name(), m.Measure())
}

func (m *RegressionMetric) Write(sink scalars.Sink, step int, prefix string) error {
	return sink.AddScalar(prefix+"/"+m.Name(), m.Measure(), step)
}

func (m *RegressionMetric) Clear() {
	m.preds = m.preds[:0]
	m.truths = m.truths[:0]
}

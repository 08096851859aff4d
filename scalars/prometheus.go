package scalars

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes the latest value and step of every scalar stream as gauges
type PrometheusSink struct {
	values  *prometheus.GaugeVec
	steps   *prometheus.GaugeVec
	updates *prometheus.CounterVec
}

// NewPrometheusSink creates the collectors and registers them with reg
func NewPrometheusSink(reg prometheus.Registerer, run string) (*PrometheusSink, error) {
	labels := prometheus.Labels{"run": run}
	s := &PrometheusSink{
		values: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "sdf_scalar_value",
				Help:        "Latest value of a training scalar",
				ConstLabels: labels,
			},
			[]string{"tag"},
		),
		steps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "sdf_scalar_step",
				Help:        "Step at which a training scalar was last recorded",
				ConstLabels: labels,
			},
			[]string{"tag"},
		),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "sdf_scalar_updates_total",
				Help:        "Total number of recorded values per training scalar",
				ConstLabels: labels,
			},
			[]string{"tag"},
		),
	}
	for _, c := range []prometheus.Collector{s.values, s.steps, s.updates} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) AddScalar(tag string, value float64, step int) error {
	s.values.WithLabelValues(tag).Set(value)
	s.steps.WithLabelValues(tag).Set(float64(step))
	s.updates.WithLabelValues(tag).Inc()
	return nil
}

func (s *PrometheusSink) Flush() error { return nil }
func (s *PrometheusSink) Close() error { return nil }

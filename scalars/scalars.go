// Package scalars records the named scalar streams emitted during training,
// such as the per-step loss and learning rate.
package scalars

import (
	"errors"
	"sync"
	"time"
)

// Sink receives scalar values tagged with a name and a step
type Sink interface {
	AddScalar(tag string, value float64, step int) error
	Flush() error
	Close() error
}

// Record is one scalar observation
type Record struct {
	Tag   string    `json:"tag"`
	Value float64   `json:"value"`
	Step  int       `json:"step"`
	Time  time.Time `json:"time"`
}

// Nop discards every scalar
type Nop struct{}

func (Nop) AddScalar(string, float64, int) error { return nil }
func (Nop) Flush() error                         { return nil }
func (Nop) Close() error                         { return nil }

// Memory keeps every scalar in memory
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory creates an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) AddScalar(tag string, value float64, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{Tag: tag, Value: value, Step: step, Time: time.Now()})
	return nil
}

func (m *Memory) Flush() error { return nil }
func (m *Memory) Close() error { return nil }

// Records returns a copy of all records in arrival order
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Values returns the values recorded under tag in arrival order
func (m *Memory) Values(tag string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float64
	for _, r := range m.records {
		if r.Tag == tag {
			out = append(out, r.Value)
		}
	}
	return out
}

// Steps returns the steps recorded under tag in arrival order
func (m *Memory) Steps(tag string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, r := range m.records {
		if r.Tag == tag {
			out = append(out, r.Step)
		}
	}
	return out
}

// Multi fans scalars out to several sinks
type Multi []Sink

func (m Multi) AddScalar(tag string, value float64, step int) error {
	var errs []error
	for _, s := range m {
		if err := s.AddScalar(tag, value, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Flush() error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

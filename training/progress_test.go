package training

import (
	"bytes"
	"strings"
	"testing"
)

// TestProgressBar tests the basic progress bar functionality
func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "Epoch 1", 4)

	for i := 1; i <= 4; i++ {
		pb.Update(i, map[string]float64{
			"loss": 1.0 / float64(i),
			"lr":   0.001,
		})
	}
	pb.Finish()

	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish should end the line")
	}
	last := out[strings.LastIndex(out, "\r")+1:]
	if !strings.Contains(last, "Epoch 1: 100%") {
		t.Errorf("Expected a completed bar, got %q", last)
	}
	if !strings.Contains(last, "4/4") {
		t.Errorf("Expected step count, got %q", last)
	}
	// metrics are printed in key order
	if i, j := strings.Index(last, "loss=0.2500"), strings.Index(last, "lr=0.001000"); i < 0 || j < 0 || i > j {
		t.Errorf("Expected ordered metrics, got %q", last)
	}
}

func TestProgressBarDisabled(t *testing.T) {
	pb := NewProgressBar(nil, "quiet", 2)
	pb.Update(1, nil)
	pb.Update(1, map[string]float64{"loss": 1})
	pb.Finish()
	line := pb.line()
	if !strings.Contains(line, "quiet: 100%") || !strings.Contains(line, "loss=1.0000") {
		t.Errorf("Disabled bar should still track progress, got %q", line)
	}
}

func TestProgressBarThrottlesRedraws(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "fast", 1000)
	for i := 1; i < 1000; i++ {
		pb.Update(i, nil)
	}
	if n := strings.Count(buf.String(), "\r"); n > 10 {
		t.Errorf("Expected throttled redraws, got %d", n)
	}
	pb.Finish()
	if !strings.Contains(buf.String(), "1000/1000") {
		t.Error("Finish should always redraw")
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		count    int
		expected string
	}{
		{12, "12"},
		{1500, "1.5K"},
		{2500000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatParameterCount(tt.count); got != tt.expected {
			t.Errorf("formatParameterCount(%d) = %s, want %s", tt.count, got, tt.expected)
		}
	}
	if got := formatDuration(125e9); got != "02:05" {
		t.Errorf("formatDuration = %s, want 02:05", got)
	}
}

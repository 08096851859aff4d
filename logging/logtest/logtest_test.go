package logtest

import (
	"strings"
	"testing"
)

type recorder struct {
	testing.TB
	lines []string
}

func (r *recorder) Helper() {}

func (r *recorder) Log(args ...any) {
	for _, a := range args {
		r.lines = append(r.lines, a.(string))
	}
}

func TestNewWritesToTestLog(t *testing.T) {
	rec := &recorder{TB: t}
	New(rec).Debug("fitted", "epoch", 3)

	if len(rec.lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(rec.lines))
	}
	line := rec.lines[0]
	if strings.HasSuffix(line, "\n") {
		t.Errorf("line keeps trailing newline: %q", line)
	}
	if !strings.Contains(line, "msg=fitted") || !strings.Contains(line, "epoch=3") {
		t.Errorf("unexpected line %q", line)
	}
}

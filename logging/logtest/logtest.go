// Package logtest provides loggers for tests.
package logtest

import (
	"log/slog"
	"strings"
	"testing"
)

// New returns a logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func New(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

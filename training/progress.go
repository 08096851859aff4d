package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"
)

// minRedraw limits how often a bar repaints between the first and last step
const minRedraw = 100 * time.Millisecond

// ProgressBar draws a single-line, tqdm-style progress bar for one pass over
// a loader. Update repaints at most every minRedraw; Finish always repaints.
type ProgressBar struct {
	out        io.Writer
	label      string
	total      int
	done       int
	width      int
	start      time.Time
	lastRedraw time.Time
	metrics    map[string]float64
}

// NewProgressBar creates a progress bar that renders to out. A nil out
// disables rendering.
func NewProgressBar(out io.Writer, label string, total int) *ProgressBar {
	return &ProgressBar{
		out:     out,
		label:   label,
		total:   total,
		width:   30,
		start:   time.Now(),
		metrics: map[string]float64{},
	}
}

// TerminalOutput returns os.Stderr when it is a terminal and nil otherwise
func TerminalOutput() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return os.Stderr
	}
	return nil
}

// Update records step and merges metrics into the values shown after the bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.done = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	if pb.out == nil || (step < pb.total && time.Since(pb.lastRedraw) < minRedraw) {
		return
	}
	pb.redraw()
}

// Finish marks the pass complete and ends the line
func (pb *ProgressBar) Finish() {
	pb.done = pb.total
	if pb.out == nil {
		return
	}
	pb.redraw()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) redraw() {
	pb.lastRedraw = time.Now()
	fmt.Fprint(pb.out, "\r"+pb.line())
}

func (pb *ProgressBar) fraction() float64 {
	if pb.total <= 0 {
		return 0
	}
	return min(float64(pb.done)/float64(pb.total), 1)
}

func (pb *ProgressBar) line() string {
	frac := pb.fraction()
	filled := int(frac * float64(pb.width))

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %3.0f%%|%s%s| %d/%d",
		pb.label, frac*100,
		strings.Repeat("█", filled), strings.Repeat(" ", pb.width-filled),
		pb.done, pb.total)

	elapsed := time.Since(pb.start)
	remaining := time.Duration(0)
	if frac > 0 && frac < 1 {
		remaining = time.Duration(float64(elapsed) * (1 - frac) / frac)
	}
	fmt.Fprintf(&b, " [%s<%s", formatDuration(elapsed), formatDuration(remaining))
	if pb.done > 0 && elapsed > 0 {
		fmt.Fprintf(&b, ", %.2fstep/s", float64(pb.done)/elapsed.Seconds())
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// learning rates are small
		format := ", %s=%.4f"
		if k == "lr" {
			format = ", %s=%.6f"
		}
		fmt.Fprintf(&b, format, k, pb.metrics[k])
	}
	b.WriteString("]")
	return b.String()
}

// formatDuration formats d as MM:SS
func formatDuration(d time.Duration) string {
	s := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// formatParameterCount abbreviates count with a K or M suffix
func formatParameterCount(count int) string {
	switch {
	case count >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(count)/1e6)
	case count >= 1_000:
		return fmt.Sprintf("%.1fK", float64(count)/1e3)
	default:
		return fmt.Sprintf("%d", count)
	}
}

package timinglog_test

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"vampsync/internal/timinglog"
)

const sample = `# logshim timing
# idx cnt0 rel abs fgrab cnt0 cnt1
         0           10      0.000000000      1714521600.000000000  1714521600.000100         10          0
         1           11      0.010000000      1714521600.010000000  1714521600.010100         11          1
         2           12      0.020000000      1714521600.020000000  1714521600.020100         12          2
`

var approx = cmpopts.EquateApprox(0, 1)

func TestParse(t *testing.T) {
	l, err := timinglog.Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	if diff := cmp.Diff([]string{"# logshim timing", "# idx cnt0 rel abs fgrab cnt0 cnt1"}, l.Header()); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	want := []float64{1714521600000100, 1714521600010100, 1714521600020100}
	if diff := cmp.Diff(want, l.FrameTimesUS(), approx); diff != "" {
		t.Fatalf("frame times mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsShortLines(t *testing.T) {
	_, err := timinglog.Parse(strings.NewReader("0 1 2\n"))
	if err == nil {
		t.Fatal("expected error for short line")
	}
}

func TestParseEmpty(t *testing.T) {
	l, err := timinglog.Parse(strings.NewReader("# only header\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("Len = %d", l.Len())
	}
	if _, ok := l.First(); ok {
		t.Fatal("First should report no frames")
	}
}

func TestSelectAndAppendPreserveOrder(t *testing.T) {
	l := timinglog.New([]string{"# h"}, []float64{0, 100, 200, 300, 400})
	mask := []bool{true, false, true, false, true}

	picked, err := l.Select(mask)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if diff := cmp.Diff([]float64{0, 200, 400}, picked.FrameTimesUS()); diff != "" {
		t.Fatalf("selected times mismatch (-want +got):\n%s", diff)
	}

	inverse := make([]bool, len(mask))
	for i, m := range mask {
		inverse[i] = !m
	}
	rest, err := l.Select(inverse)
	if err != nil {
		t.Fatalf("Select inverse: %v", err)
	}
	joined := picked.Append(rest)
	if joined.Len() != l.Len() {
		t.Fatalf("joined Len = %d, want %d", joined.Len(), l.Len())
	}
	if diff := cmp.Diff([]string{"# h"}, joined.Header()); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}

	all, err := l.Select([]bool{true, true, true, true, true})
	if err != nil {
		t.Fatalf("Select all: %v", err)
	}
	if diff := cmp.Diff(l.FrameTimesUS(), all.FrameTimesUS()); diff != "" {
		t.Fatalf("all-true selection changed times (-want +got):\n%s", diff)
	}
}

func TestSelectMaskLength(t *testing.T) {
	l := timinglog.New(nil, []float64{0, 1})
	if _, err := l.Select([]bool{true}); !errors.Is(err, timinglog.ErrMaskLength) {
		t.Fatalf("expected ErrMaskLength, got %v", err)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	l, err := timinglog.Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	path := filepath.Join(t.TempDir(), "vcam1_00:00:00.000100.txt")
	if err := l.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	back, err := timinglog.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if diff := cmp.Diff(l.FrameTimesUS(), back.FrameTimesUS(), approx); diff != "" {
		t.Fatalf("frame times mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(l.LoopTimesUS(), back.LoopTimesUS(), approx); diff != "" {
		t.Fatalf("loop times mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(l.Header(), back.Header()); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteToLayout(t *testing.T) {
	l := timinglog.New(nil, []float64{1e6, 2e6})
	var buf bytes.Buffer
	if _, err := l.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	fields := strings.Fields(lines[1])
	if diff := cmp.Diff([]string{"1", "1", "1.000000000", "2.000000000", "2.000000", "1", "1"}, fields); diff != "" {
		t.Fatalf("line layout mismatch (-want +got):\n%s", diff)
	}
}

func TestForceFrameTimes(t *testing.T) {
	l := timinglog.New(nil, []float64{0, 10})
	if err := l.ForceFrameTimes([]float64{5, 15}); err != nil {
		t.Fatalf("ForceFrameTimes: %v", err)
	}
	if diff := cmp.Diff([]float64{5, 15}, l.FrameTimesUS()); diff != "" {
		t.Fatalf("forced times mismatch (-want +got):\n%s", diff)
	}
	if err := l.ForceFrameTimes([]float64{1}); !errors.Is(err, timinglog.ErrMaskLength) {
		t.Fatalf("expected ErrMaskLength, got %v", err)
	}
}

func TestStats(t *testing.T) {
	l := timinglog.New(nil, []float64{0, 100, 200, 300, 400})
	stats, ok := l.Stats()
	if !ok {
		t.Fatal("expected stats")
	}
	if math.Abs(stats.Grabber.Mean-100) > 1e-9 || stats.Grabber.Std != 0 {
		t.Fatalf("grabber stats = %+v", stats.Grabber)
	}
	if stats.Grabber.Min != 100 || stats.Grabber.Max != 100 {
		t.Fatalf("grabber bounds = %+v", stats.Grabber)
	}

	if _, ok := timinglog.New(nil, []float64{1}).Stats(); ok {
		t.Fatal("single frame should not produce stats")
	}
}

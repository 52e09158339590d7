package timinglog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Ext is the sidecar extension paired with every frame file.
const Ext = ".txt"

const minColumns = 7

// ErrMaskLength reports a selection mask whose length differs from the frame count.
var ErrMaskLength = errors.New("mask length does not match frame count")

// Log holds per-frame acquisition timestamps in microseconds, in frame order.
// Comment lines from the source are kept verbatim and survive Select/Append.
type Log struct {
	header []string
	loopUS []float64
	grabUS []float64
	cnt0   []int64
	cnt1   []int64
}

// New builds a log from frame-grabber timestamps alone. The acquisition-loop
// clock mirrors the grabber clock and counters follow the frame index.
func New(header []string, grabUS []float64) *Log {
	l := &Log{header: append([]string(nil), header...)}
	for i, t := range grabUS {
		l.loopUS = append(l.loopUS, t)
		l.grabUS = append(l.grabUS, t)
		l.cnt0 = append(l.cnt0, int64(i))
		l.cnt1 = append(l.cnt1, int64(i))
	}
	return l
}

// ReadFile parses the timing log at path.
func ReadFile(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return l, nil
}

// Parse reads a timing log. Data lines carry at least seven whitespace
// separated columns: index, counter, relative loop time (s), absolute loop
// time (s), absolute grabber time (s), counter 0, counter 1.
func Parse(r io.Reader) (*Log, error) {
	l := &Log{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			l.header = append(l.header, line)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < minColumns {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", lineNo, minColumns, len(fields))
		}
		values := make([]float64, minColumns)
		for i := range values {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", lineNo, i+1, err)
			}
			values[i] = v
		}
		l.loopUS = append(l.loopUS, values[3]*1e6)
		// The grabber column has microsecond resolution.
		l.grabUS = append(l.grabUS, math.Round(values[4]*1e6))
		l.cnt0 = append(l.cnt0, int64(values[5]))
		l.cnt1 = append(l.cnt1, int64(values[6]))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// Len returns the number of frames.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return len(l.grabUS)
}

// Header returns the comment lines.
func (l *Log) Header() []string {
	return append([]string(nil), l.header...)
}

// FrameTimesUS returns the frame-grabber timestamps used for matching.
func (l *Log) FrameTimesUS() []float64 {
	return append([]float64(nil), l.grabUS...)
}

// LoopTimesUS returns the acquisition-loop timestamps.
func (l *Log) LoopTimesUS() []float64 {
	return append([]float64(nil), l.loopUS...)
}

// First returns the first grabber timestamp.
func (l *Log) First() (float64, bool) {
	if l.Len() == 0 {
		return 0, false
	}
	return l.grabUS[0], true
}

// Last returns the last grabber timestamp.
func (l *Log) Last() (float64, bool) {
	if l.Len() == 0 {
		return 0, false
	}
	return l.grabUS[len(l.grabUS)-1], true
}

// Clone returns an independent copy.
func (l *Log) Clone() *Log {
	return &Log{
		header: append([]string(nil), l.header...),
		loopUS: append([]float64(nil), l.loopUS...),
		grabUS: append([]float64(nil), l.grabUS...),
		cnt0:   append([]int64(nil), l.cnt0...),
		cnt1:   append([]int64(nil), l.cnt1...),
	}
}

// Select returns the frames where mask is true, in order.
func (l *Log) Select(mask []bool) (*Log, error) {
	if len(mask) != l.Len() {
		return nil, fmt.Errorf("%w: mask %d, frames %d", ErrMaskLength, len(mask), l.Len())
	}
	out := &Log{header: append([]string(nil), l.header...)}
	for i, keep := range mask {
		if !keep {
			continue
		}
		out.loopUS = append(out.loopUS, l.loopUS[i])
		out.grabUS = append(out.grabUS, l.grabUS[i])
		out.cnt0 = append(out.cnt0, l.cnt0[i])
		out.cnt1 = append(out.cnt1, l.cnt1[i])
	}
	return out, nil
}

// Append returns l followed by other. The header of l is kept.
func (l *Log) Append(other *Log) *Log {
	out := l.Clone()
	out.loopUS = append(out.loopUS, other.loopUS...)
	out.grabUS = append(out.grabUS, other.grabUS...)
	out.cnt0 = append(out.cnt0, other.cnt0...)
	out.cnt1 = append(out.cnt1, other.cnt1...)
	return out
}

// ForceFrameTimes overwrites the grabber timestamps.
func (l *Log) ForceFrameTimes(timesUS []float64) error {
	if len(timesUS) != l.Len() {
		return fmt.Errorf("%w: times %d, frames %d", ErrMaskLength, len(timesUS), l.Len())
	}
	copy(l.grabUS, timesUS)
	return nil
}

// WriteTo writes the header lines followed by regenerated data lines.
func (l *Log) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	for _, line := range l.header {
		n, err := bw.WriteString(line + "\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	var loop0 float64
	if len(l.loopUS) > 0 {
		loop0 = l.loopUS[0]
	}
	for i := range l.grabUS {
		n, err := fmt.Fprintf(bw, "%10d  %10d  %15.9f   %20.9f  %17.6f   %10d   %10d\n",
			i, l.cnt0[i], (l.loopUS[i]-loop0)/1e6, l.loopUS[i]/1e6, l.grabUS[i]/1e6, l.cnt0[i], l.cnt1[i])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

// WriteFile writes the log to path, replacing any existing file.
func (l *Log) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := l.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

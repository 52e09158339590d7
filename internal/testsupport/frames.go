package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vampsync/internal/fits"
	"vampsync/internal/timinglog"
)

// Frame geometry of synthetic files.
const (
	FrameWidth  = 4
	FrameHeight = 2
	frameBitpix = 16
)

// FrameSpec describes a synthetic frame file.
type FrameSpec struct {
	Root   string
	Stream string
	// Prefix defaults to Stream.
	Prefix string
	// TimesUS are grabber timestamps in microseconds since the Unix epoch.
	TimesUS []float64
	// Frames overrides the header frame count; zero means len(TimesUS).
	Frames int
	// ExpTime defaults to 0.001 s. A negative value omits the keyword.
	ExpTime float64
	// Untriggered clears EXTTRIG.
	Untriggered bool
	// NoTiming skips the sidecar.
	NoTiming bool
	// Extra header cards.
	Cards map[string]any
}

// Micros converts a time to microseconds since the epoch.
func Micros(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// TimesFrom returns n timestamps starting at start, step apart.
func TimesFrom(start time.Time, step time.Duration, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = Micros(start.Add(time.Duration(i) * step))
	}
	return out
}

// FrameName returns the conventional name of a file starting at t.
func FrameName(prefix string, t time.Time) string {
	return prefix + "_" + t.UTC().Format("15:04:05.000000") + ".fits"
}

// WriteFrameFile writes a .fits cube and, unless disabled, its .txt timing
// sidecar under root/<date>/<stream>/. Plane i is filled with byte i+1.
// It returns the absolute data path.
func WriteFrameFile(t testing.TB, spec FrameSpec) string {
	t.Helper()

	if len(spec.TimesUS) == 0 {
		t.Fatal("frame spec needs at least one timestamp")
	}
	prefix := spec.Prefix
	if prefix == "" {
		prefix = spec.Stream
	}
	n := spec.Frames
	if n == 0 {
		n = len(spec.TimesUS)
	}
	start := time.UnixMicro(int64(spec.TimesUS[0])).UTC()
	dir := filepath.Join(spec.Root, start.Format("20060102"), spec.Stream)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, FrameName(prefix, start))

	h := fits.NewImageHeader(frameBitpix, FrameWidth, FrameHeight, n)
	exp := spec.ExpTime
	if exp == 0 {
		exp = 0.001
	}
	if exp > 0 {
		h.Set("EXPTIME", exp)
	}
	h.Set("EXTTRIG", !spec.Untriggered)
	h.Set("DETECTOR", spec.Stream)
	for k, v := range spec.Cards {
		h.Set(k, v)
	}

	plane := FrameWidth * FrameHeight * frameBitpix / 8
	data := make([]byte, plane*n)
	for i := range n {
		for j := range plane {
			data[i*plane+j] = byte(i + 1)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	if err := fits.Encode(out, h, data); err != nil {
		_ = out.Close()
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}

	if !spec.NoTiming {
		txt := path[:len(path)-len(".fits")] + timinglog.Ext
		if err := timinglog.New([]string{"# synthetic timing"}, spec.TimesUS).WriteFile(txt); err != nil {
			t.Fatalf("write timing %s: %v", txt, err)
		}
	}
	return path
}

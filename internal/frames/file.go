package frames

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vampsync/internal/fileutil"
	"vampsync/internal/fits"
	"vampsync/internal/logging"
	"vampsync/internal/timinglog"
)

// StagingDir is the per-folder subdirectory that holds partially written
// artifacts until they are renamed into place.
const StagingDir = "tmp"

var timedName = regexp.MustCompile(`^([^_]+)_(\d{2}:\d{2}:\d{2})(\.\d+)?`)

// archivedPrefixes mark files renamed by the observatory archive. Their
// names carry an archive key instead of a stream prefix and a time.
var archivedPrefixes = []string{"SCX", "VMP"}

// File is one frame-sequence artifact plus its timing sidecar.
//
// A File loaded from disk reads its header and timing log eagerly and its
// frame data on first use. A File produced by Subselect or MergeAfter lives
// in memory until WriteToDisk.
type File struct {
	kind         Kind
	path         string
	onDisk       bool
	timingOnDisk bool

	header    *fits.Header
	timing    *timinglog.Log
	timingErr error
	payload   Payload
	ctime     time.Time

	start  *time.Time
	finish *time.Time

	logger *slog.Logger
}

// Option configures a File.
type Option func(*File)

// WithLogger attaches a logger used for time fallbacks and disk mutations.
func WithLogger(logger *slog.Logger) Option {
	return func(f *File) {
		f.logger = logging.NewComponentLogger(logger, "frames")
	}
}

func checkPath(path string) (Kind, error) {
	if !filepath.IsAbs(path) {
		return 0, fmt.Errorf("%w: %q is not absolute", ErrInvalidName, path)
	}
	kind, ok := KindFromPath(path)
	if !ok {
		return 0, fmt.Errorf("%w: %q has no frame file extension", ErrInvalidName, path)
	}
	return kind, nil
}

// Load binds to the artifact at path. The timing sidecar is optional; a
// missing or unreadable one leaves HasTiming false.
func Load(path string, opts ...Option) (*File, error) {
	kind, err := checkPath(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidName, path)
	}

	f := &File{kind: kind, path: path, onDisk: true}
	f.apply(opts)
	f.ctime = changeTime(path, info)

	c, err := codecFor(kind)
	if err != nil {
		return nil, err
	}
	h, err := c.readHeader(path)
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	f.header = h

	timingPath := f.TimingPath()
	if fileutil.Exists(timingPath) {
		f.timingOnDisk = true
		log, err := timinglog.ReadFile(timingPath)
		if err != nil {
			f.timingErr = err
			logging.WarnWithContext(f.logger, "timing sidecar unreadable", "timing_unreadable",
				logging.String(logging.FieldPath, timingPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file cannot be synchronized"),
			)
		} else {
			f.timing = log
		}
	}
	return f, nil
}

// New builds an in-memory file. The header frame count is set from payload,
// and timing must carry one stamp per frame.
func New(path string, header *fits.Header, timing *timinglog.Log, payload Payload, opts ...Option) (*File, error) {
	kind, err := checkPath(path)
	if err != nil {
		return nil, err
	}
	if header == nil || timing == nil || payload == nil {
		return nil, errors.New("in-memory frame file needs header, timing and data")
	}
	if timing.Len() != payload.Frames() {
		return nil, fmt.Errorf("timing log has %d frames, data has %d", timing.Len(), payload.Frames())
	}
	if _, isList := payload.(*FrameList); isList != (kind == KindFrameList) {
		return nil, fmt.Errorf("%w: %T stored as %s", ErrKindMismatch, payload, kind)
	}
	setHeaderFrames(header, payload.Frames())
	f := &File{kind: kind, path: path, header: header, timing: timing, payload: payload}
	f.apply(opts)
	return f, nil
}

func (f *File) apply(opts []Option) {
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.NewNop()
	}
}

// derive returns an in-memory file sharing f's logger.
func (f *File) derive(kind Kind, path string, h *fits.Header, timing *timinglog.Log, payload Payload) *File {
	return &File{kind: kind, path: path, header: h, timing: timing, payload: payload, logger: f.logger}
}

func changeTime(path string, info fs.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return info.ModTime()
	}
	sec, nsec := st.Ctim.Unix()
	return time.Unix(sec, nsec).UTC()
}

func (f *File) Path() string { return f.path }
func (f *File) Name() string { return filepath.Base(f.path) }
func (f *File) Dir() string  { return filepath.Dir(f.path) }
func (f *File) Kind() Kind   { return f.kind }

// Stream is the partition folder holding the file.
func (f *File) Stream() string { return filepath.Base(f.Dir()) }

// Date is the capture-date folder, YYYYMMDD.
func (f *File) Date() string { return filepath.Base(filepath.Dir(f.Dir())) }

// Root is the tier root above the date folder.
func (f *File) Root() string { return filepath.Dir(filepath.Dir(f.Dir())) }

func (f *File) OnDisk() bool { return f.onDisk }

func (f *File) Header() *fits.Header { return f.header }

// Timing returns the timing log, or nil when the sidecar is missing or unreadable.
func (f *File) Timing() *timinglog.Log { return f.timing }

func (f *File) HasTiming() bool { return f.timing != nil }

// TimingError returns the parse failure of an unreadable sidecar.
func (f *File) TimingError() error { return f.timingErr }

// TimingPath is the sidecar path derived from the data path.
func (f *File) TimingPath() string {
	return timingPathFor(f.path, f.kind)
}

func timingPathFor(path string, kind Kind) string {
	return strings.TrimSuffix(path, kind.Ext()) + timinglog.Ext
}

// BaseName is the file name without its kind extension.
func (f *File) BaseName() string {
	return strings.TrimSuffix(f.Name(), f.kind.Ext())
}

// ArchiveKey returns the four-character key of an archive-named file.
func (f *File) ArchiveKey() (string, bool) {
	name := f.Name()
	for _, p := range archivedPrefixes {
		if strings.HasPrefix(name, p) && len(name) >= 4 {
			return name[:4], true
		}
	}
	return "", false
}

// Prefix is the stream prefix in the file name, empty for archive names.
func (f *File) Prefix() string {
	if _, archived := f.ArchiveKey(); archived {
		return ""
	}
	m := timedName.FindStringSubmatch(f.Name())
	if m == nil {
		return ""
	}
	return m[1]
}

// FileTime parses the acquisition time embedded in the name, using the date
// folder for the calendar day.
func (f *File) FileTime() (time.Time, bool) {
	if _, archived := f.ArchiveKey(); archived {
		return time.Time{}, false
	}
	m := timedName.FindStringSubmatch(f.Name())
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(folderLayout+" 15:04:05", f.Date()+" "+m[2], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	if m[3] != "" {
		frac, err := strconv.ParseFloat("0"+m[3], 64)
		if err == nil {
			t = t.Add(secondsToDuration(frac))
		}
	}
	return t, true
}

// Frames returns the frame count recorded in the header.
func (f *File) Frames() int {
	return headerFrames(f.header)
}

// ExposureSeconds is EXPTIME times DET-NSMP (1 when absent).
func (f *File) ExposureSeconds() (float64, bool) {
	exp, ok := f.header.Float(KeyExpTime)
	if !ok {
		return 0, false
	}
	nsmp, ok := f.header.Float(KeyNumSamples)
	if !ok || nsmp <= 0 {
		nsmp = 1
	}
	return exp * nsmp, true
}

// ExternalTrigger reports whether frames were externally triggered.
// An absent keyword counts as disabled.
func (f *File) ExternalTrigger() bool {
	v, ok := f.header.Bool(KeyExtTrigger)
	return ok && v
}

// Exists reports whether every artifact of an on-disk file is still present.
func (f *File) Exists() bool {
	if !f.onDisk {
		return false
	}
	if !fileutil.Exists(f.path) {
		return false
	}
	return !f.timingOnDisk || fileutil.Exists(f.TimingPath())
}

// Payload returns the frame data, reading it from disk when needed.
func (f *File) Payload() (Payload, error) {
	if err := f.ensureData(); err != nil {
		return nil, err
	}
	return f.payload, nil
}

func (f *File) ensureData() error {
	if f.payload != nil {
		return nil
	}
	if !f.onDisk {
		return fmt.Errorf("%w: %s", ErrDataNotLoaded, f.path)
	}
	c, err := codecFor(f.kind)
	if err != nil {
		return err
	}
	_, payload, err := c.read(f.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.path, err)
	}
	if payload.Frames() != f.Frames() {
		return fmt.Errorf("%w: %s holds %d frames, header says %d", fits.ErrMalformed, f.path, payload.Frames(), f.Frames())
	}
	f.payload = payload
	return nil
}

// ForceFrameTimes replaces the grabber timestamps, for instance with the
// midpoints shared by two synchronized files, and rewrites the header times.
func (f *File) ForceFrameTimes(timesUS []float64) error {
	if f.timing == nil {
		return fmt.Errorf("%w: %s", ErrNoTiming, f.path)
	}
	if err := f.timing.ForceFrameTimes(timesUS); err != nil {
		return err
	}
	f.resetTimes()
	first, ok := f.timing.First()
	if !ok {
		return nil
	}
	last, _ := f.timing.Last()
	fixHeaderTimes(f.header, microsToTime(first), microsToTime(last))
	return nil
}

// ConvertTo changes the encoding of an in-memory cube, renaming it to match.
func (f *File) ConvertTo(kind Kind) error {
	if kind == f.kind {
		return nil
	}
	if f.onDisk || !f.kind.isCube() || !kind.isCube() {
		return fmt.Errorf("%w: cannot convert %s to %s", ErrKindMismatch, f.kind, kind)
	}
	f.path = strings.TrimSuffix(f.path, f.kind.Ext()) + kind.Ext()
	f.kind = kind
	return nil
}

// Subselect returns an in-memory file holding the frames where mask is true.
// The result is named after its first frame time in the same folder.
func (f *File) Subselect(mask []bool) (*File, error) {
	if len(mask) != f.Frames() {
		return nil, fmt.Errorf("%w: %d for %d frames in %s", ErrMaskLength, len(mask), f.Frames(), f.path)
	}
	if f.timing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTiming, f.path)
	}
	count := 0
	for _, keep := range mask {
		if keep {
			count++
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySelection, f.path)
	}
	if err := f.ensureData(); err != nil {
		return nil, err
	}

	timing, err := f.timing.Select(mask)
	if err != nil {
		return nil, fmt.Errorf("select timing of %s: %w", f.path, err)
	}
	payload, err := f.payload.Select(mask)
	if err != nil {
		return nil, fmt.Errorf("select data of %s: %w", f.path, err)
	}

	h := f.header.Clone()
	setHeaderFrames(h, count)
	first, _ := timing.First()
	last, _ := timing.Last()
	clock := fixHeaderTimes(h, microsToTime(first), microsToTime(last))

	kind := f.kind
	if kind == KindCompressedCube {
		kind = KindCube
	}
	name := f.namePrefix() + "_" + clock + kind.Ext()
	return f.derive(kind, filepath.Join(f.Dir(), name), h, timing, payload), nil
}

func (f *File) namePrefix() string {
	if p := f.Prefix(); p != "" {
		return p
	}
	return f.Stream()
}

// MergeAfter returns an in-memory file holding f's frames followed by
// other's. The result keeps f's path.
func (f *File) MergeAfter(other *File) (*File, error) {
	if f.kind != other.kind {
		return nil, fmt.Errorf("%w: %s after %s", ErrKindMismatch, other.kind, f.kind)
	}
	if f.timing == nil || other.timing == nil {
		return nil, ErrNoTiming
	}
	if err := f.ensureData(); err != nil {
		return nil, err
	}
	if err := other.ensureData(); err != nil {
		return nil, err
	}
	payload, err := f.payload.Append(other.payload)
	if err != nil {
		return nil, err
	}
	timing := f.timing.Append(other.timing)

	h := f.header.Clone()
	setHeaderFrames(h, payload.Frames())
	first, _ := timing.First()
	last, _ := timing.Last()
	fixHeaderTimes(h, microsToTime(first), microsToTime(last))
	return f.derive(f.kind, f.path, h, timing, payload), nil
}

// WriteToDisk materializes an in-memory file. Both artifacts are written
// under the staging folder and renamed into place, sidecar first. An existing
// target is never replaced.
func (f *File) WriteToDisk() error {
	if f.onDisk {
		return fmt.Errorf("%w: %s", ErrExists, f.path)
	}
	if f.timing == nil {
		return fmt.Errorf("%w: %s", ErrNoTiming, f.path)
	}
	if f.payload == nil {
		return fmt.Errorf("%w: %s", ErrDataNotLoaded, f.path)
	}
	c, err := codecFor(f.kind)
	if err != nil {
		return err
	}
	timingPath := f.TimingPath()
	if fileutil.Exists(f.path) || fileutil.Exists(timingPath) {
		return fmt.Errorf("%w: %s", ErrExists, f.path)
	}
	if err := os.MkdirAll(f.Dir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", f.Dir(), err)
	}

	stage := filepath.Join(f.Dir(), StagingDir)
	err = fileutil.WriteStaged(stage, timingPath, func(w io.Writer) error {
		_, err := f.timing.WriteTo(w)
		return err
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", timingPath, err)
	}
	err = fileutil.WriteStaged(stage, f.path, func(w io.Writer) error {
		return c.write(w, f.header, f.payload)
	})
	if err != nil {
		_ = os.Remove(timingPath)
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	// Only succeeds when no other writer is using the folder.
	_ = os.Remove(stage)

	f.onDisk = true
	f.timingOnDisk = true
	f.header.MarkClean()
	if info, err := os.Stat(f.path); err == nil {
		f.ctime = changeTime(f.path, info)
	}
	f.logger.Info("frame file written",
		logging.String(logging.FieldPath, f.path),
		logging.Int("frames", f.Frames()),
	)
	return nil
}

// UpdateHeaderOnDisk rewrites the data artifact when its header changed.
func (f *File) UpdateHeaderOnDisk() error {
	if !f.onDisk || !f.header.Dirty() {
		return nil
	}
	if err := f.ensureData(); err != nil {
		return err
	}
	c, err := codecFor(f.kind)
	if err != nil {
		return err
	}
	stage := filepath.Join(f.Dir(), StagingDir)
	tmp := filepath.Join(stage, f.Name())
	err = fileutil.WriteStaged(stage, tmp, func(w io.Writer) error {
		return c.write(w, f.header, f.payload)
	})
	if err != nil {
		return fmt.Errorf("rewrite header of %s: %w", f.path, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rewrite header of %s: %w", f.path, err)
	}
	_ = os.Remove(stage)
	f.header.MarkClean()
	return nil
}

// DeleteFromDisk removes both artifacts. Each is first renamed to a
// time-suffixed name, and only then unlinked, so a crash never leaves a
// half-removed pair under the canonical names. Deleting an in-memory file is
// a no-op; ErrNotFound is returned when both artifacts had already vanished.
func (f *File) DeleteFromDisk() error {
	if !f.onDisk {
		return nil
	}
	suffix := "." + strconv.FormatInt(time.Now().UnixNano(), 10)
	targets := []string{f.path}
	if f.timingOnDisk {
		targets = []string{f.TimingPath(), f.path}
	}

	type doomed struct{ from, to string }
	var renamed []doomed
	for _, p := range targets {
		if err := os.Rename(p, p+suffix); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			for _, d := range renamed {
				_ = os.Rename(d.to, d.from)
			}
			return fmt.Errorf("delete %s: %w", p, err)
		}
		renamed = append(renamed, doomed{from: p, to: p + suffix})
	}
	for _, d := range renamed {
		if err := os.Remove(d.to); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", d.from, err)
		}
	}

	f.onDisk = false
	f.timingOnDisk = false
	if len(renamed) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, f.path)
	}
	f.logger.Debug("frame file deleted", logging.String(logging.FieldPath, f.path))
	return nil
}

// MoveTo relocates the file to dir/name, which must keep the kind
// extension. On-disk files move the sidecar first and then the data; when
// the data move fails the sidecar is moved back, and a failed restore is
// reported as a PairedRenameError. Existing targets are never replaced.
func (f *File) MoveTo(dir, name string) error {
	if name == "" || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dst := filepath.Join(dir, name)
	kind, err := checkPath(dst)
	if err != nil {
		return err
	}
	if kind != f.kind {
		return fmt.Errorf("%w: %s would change kind", ErrInvalidName, dst)
	}
	if dst == f.path {
		return nil
	}
	if !f.onDisk {
		f.path = dst
		return nil
	}

	dstTiming := timingPathFor(dst, kind)
	if fileutil.Exists(dst) || (f.timingOnDisk && fileutil.Exists(dstTiming)) {
		return fmt.Errorf("%w: %s", ErrExists, dst)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	srcTiming := f.TimingPath()
	if f.timingOnDisk {
		if err := fileutil.Move(srcTiming, dstTiming); err != nil {
			return fmt.Errorf("move %s: %w", srcTiming, err)
		}
	}
	if err := fileutil.Move(f.path, dst); err != nil {
		if !f.timingOnDisk {
			return fmt.Errorf("move %s: %w", f.path, err)
		}
		if rbErr := fileutil.Move(dstTiming, srcTiming); rbErr != nil {
			return &PairedRenameError{
				TimingFrom:  srcTiming,
				TimingTo:    dstTiming,
				DataFrom:    f.path,
				DataTo:      dst,
				Err:         err,
				RollbackErr: rbErr,
			}
		}
		return fmt.Errorf("move %s: %w", f.path, err)
	}
	f.logger.Debug("frame file moved",
		logging.String(logging.FieldPath, dst),
		logging.String("from", f.path),
	)
	f.path = dst
	return nil
}

// MoveToStream moves the file into another stream folder of the same date.
// With renamePrefix the stream prefix in the name becomes stream.
func (f *File) MoveToStream(stream string, renamePrefix bool) error {
	name := f.Name()
	if renamePrefix {
		if p := f.Prefix(); p != "" {
			name = stream + strings.TrimPrefix(name, p)
		}
	}
	return f.MoveTo(filepath.Join(f.Root(), f.Date(), stream), name)
}

// MoveToRoot moves the file to the same date and stream under another root.
func (f *File) MoveToRoot(root string) error {
	return f.MoveTo(filepath.Join(root, f.Date(), f.Stream()), f.Name())
}

// RenameInFolder renames the file within its folder.
func (f *File) RenameInFolder(name string) error {
	return f.MoveTo(f.Dir(), name)
}

// AddSuffix inserts suffix between the base name and the extension.
func (f *File) AddSuffix(suffix string) error {
	return f.RenameInFolder(f.BaseName() + suffix + f.kind.Ext())
}

// maxFreeNameTries bounds the .rN search of NextFreeName.
const maxFreeNameTries = 1000

// NextFreeName returns a name in dir, derived from the file name with an
// .rN suffix when needed, whose data and sidecar paths are both unused.
// Stat failures other than not-exist are returned.
func (f *File) NextFreeName(dir string) (string, error) {
	base, ext := f.BaseName(), f.kind.Ext()
	name := base + ext
	for n := 1; n <= maxFreeNameTries; n++ {
		dst := filepath.Join(dir, name)
		taken, err := occupied(dst, timingPathFor(dst, f.kind))
		if err != nil {
			return "", fmt.Errorf("find free name in %s: %w", dir, err)
		}
		if !taken {
			return name, nil
		}
		name = base + ".r" + strconv.Itoa(n) + ext
	}
	return "", fmt.Errorf("%w: no free name for %s in %s after %d tries", ErrExists, base+ext, dir, maxFreeNameTries)
}

func occupied(paths ...string) (bool, error) {
	for _, p := range paths {
		if ok, err := fileutil.Present(p); err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Disambiguate renames an in-memory file so that WriteToDisk will not collide.
func (f *File) Disambiguate() error {
	if f.onDisk {
		return nil
	}
	name, err := f.NextFreeName(f.Dir())
	if err != nil {
		return err
	}
	f.path = filepath.Join(f.Dir(), name)
	return nil
}

func (f *File) String() string { return f.path }

package frames

import (
	"math"
	"time"

	"vampsync/internal/fits"
	"vampsync/internal/logging"
)

const (
	clockLayout  = "15:04:05.000000"
	dateLayout   = "2006-01-02"
	folderLayout = "20060102"

	// mjdUnixEpoch is the Modified Julian Date of 1970-01-01.
	mjdUnixEpoch = 40587.0
)

var hst = time.FixedZone("HST", -10*60*60)

// StartTime returns the acquisition start. Preference order: first timing
// stamp minus one exposure, header DATE-OBS + UT-STR, the time in the
// filename, the inode change time. ok is false only for an in-memory file
// with none of these.
func (f *File) StartTime() (time.Time, bool) {
	if f.start != nil {
		return *f.start, true
	}
	t, ok := f.resolveStart()
	if ok {
		f.start = &t
	}
	return t, ok
}

func (f *File) resolveStart() (time.Time, bool) {
	if first, ok := f.timing.First(); ok {
		exp, _ := f.ExposureSeconds()
		return microsToTime(first).Add(-secondsToDuration(exp)), true
	}
	if t, ok := headerClock(f.header, KeyUTStart); ok {
		logging.WarnWithContext(f.logger, "start time taken from header", "time_fallback",
			logging.String(logging.FieldPath, f.path),
			logging.String(logging.FieldImpact, "start time has header precision"),
			logging.String(logging.FieldErrorHint, "check the timing sidecar"),
		)
		return t, true
	}
	if t, ok := f.FileTime(); ok {
		logging.ErrorWithContext(f.logger, "start time taken from filename", "time_fallback",
			logging.String(logging.FieldPath, f.path),
			logging.String(logging.FieldErrorHint, "file lacks timing sidecar and header times"),
		)
		return t, true
	}
	if !f.ctime.IsZero() {
		logging.ErrorWithContext(f.logger, "start time taken from inode change time", "time_fallback",
			logging.String(logging.FieldPath, f.path),
			logging.String(logging.FieldErrorHint, "file lacks timing sidecar, header times and a timed name"),
		)
		return f.ctime, true
	}
	return time.Time{}, false
}

// FinishTime returns the acquisition end: the last timing stamp, header
// DATE-OBS + UT-END, or the inode change time.
func (f *File) FinishTime() (time.Time, bool) {
	if f.finish != nil {
		return *f.finish, true
	}
	t, ok := f.resolveFinish()
	if ok {
		f.finish = &t
	}
	return t, ok
}

func (f *File) resolveFinish() (time.Time, bool) {
	if last, ok := f.timing.Last(); ok {
		return microsToTime(last), true
	}
	if t, ok := headerClock(f.header, KeyUTEnd); ok {
		logging.WarnWithContext(f.logger, "finish time taken from header", "time_fallback",
			logging.String(logging.FieldPath, f.path),
			logging.String(logging.FieldImpact, "finish time has header precision"),
			logging.String(logging.FieldErrorHint, "check the timing sidecar"),
		)
		return t, true
	}
	if !f.ctime.IsZero() {
		logging.ErrorWithContext(f.logger, "finish time taken from inode change time", "time_fallback",
			logging.String(logging.FieldPath, f.path),
			logging.String(logging.FieldErrorHint, "file lacks timing sidecar and header times"),
		)
		return f.ctime, true
	}
	return time.Time{}, false
}

func (f *File) resetTimes() {
	f.start = nil
	f.finish = nil
}

func headerClock(h *fits.Header, key string) (time.Time, bool) {
	if h == nil {
		return time.Time{}, false
	}
	date, ok := h.String(KeyDateObs)
	if !ok {
		return time.Time{}, false
	}
	clock, ok := h.String(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout+" 15:04:05.999999999", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// fixHeaderTimes rewrites the date, clock and MJD keywords for a file
// spanning start to finish, and returns the UT start clock string.
func fixHeaderTimes(h *fits.Header, start, finish time.Time) string {
	start, finish = start.UTC(), finish.UTC()
	mid := start.Add(finish.Sub(start) / 2)

	h.Set(KeyDateObs, start.Format(dateLayout))
	h.Set(KeyUTStart, start.Format(clockLayout))
	h.Set(KeyUTEnd, finish.Format(clockLayout))
	h.Set(KeyUT, mid.Format(clockLayout))
	h.Set(KeyHSTStart, start.In(hst).Format(clockLayout))
	h.Set(KeyHSTEnd, finish.In(hst).Format(clockLayout))
	h.Set(KeyHST, mid.In(hst).Format(clockLayout))
	h.Set(KeyMJDStart, mjd(start))
	h.Set(KeyMJDEnd, mjd(finish))
	h.Set(KeyMJD, mjd(mid))
	return start.Format(clockLayout)
}

func mjd(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + mjdUnixEpoch
}

func microsToTime(us float64) time.Time {
	return time.UnixMicro(int64(math.Round(us))).UTC()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package archive

import (
	"fmt"
	"time"
)

// Window is a UTC minute-of-day range in which migration may run. Stop may
// be earlier than Start, wrapping past midnight. Equal bounds never close.
type Window struct {
	Start int
	Stop  int
}

// Open reports whether t falls inside the window.
func (w Window) Open(t time.Time) bool {
	if w.Start == w.Stop {
		return true
	}
	t = t.UTC()
	m := t.Hour()*60 + t.Minute()
	if w.Stop > w.Start {
		return m >= w.Start && m < w.Stop
	}
	return m >= w.Start || m < w.Stop
}

func (w Window) String() string {
	if w.Start == w.Stop {
		return "always"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d UTC", w.Start/60, w.Start%60, w.Stop/60, w.Stop%60)
}

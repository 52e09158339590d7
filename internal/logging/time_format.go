package logging

import "time"

const logTimestampLayout = "2006-01-02 15:04:05.000"

// formatTimestamp renders console timestamps in UTC; frame times are UTC on disk.
func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(logTimestampLayout)
}

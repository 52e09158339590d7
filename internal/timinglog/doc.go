// Package timinglog parses and regenerates the per-frame timing sidecar that
// accompanies every frame file. Timestamps are held in microseconds; the
// frame-grabber clock drives matching while the acquisition-loop clock is
// carried along for diagnostics.
package timinglog

// Package daemon runs the long-lived vampsync process.
//
// One pass scans the camera partitions, feeds new files to the
// synchronizer, drives its queues to completion, then hands finished output
// to the compressor and the tier archiver. Passes run on the poll interval
// and earlier when a filesystem watch reports new camera files. A flock on
// the state directory keeps a second instance from touching the same data.
//
// Keep orchestration here: classification, matching and file handling live
// in their own packages.
package daemon

// Package synchro pairs frame files of two free-running cameras.
//
// A Synchronizer owns one input queue per camera, sorted by start time, and
// a joint output accumulator. Each step pops the globally earliest file,
// classifies it (bad, trivially solo, waiting, or matchable) and, when a
// temporally overlapping file waits on the other camera, splits both into
// matched and unmatched parts. Matched parts share midpoint timestamps and go
// to the accumulator, which merges contiguous segments and flushes them to
// the sync stream. Unmatched parts are requeued once and then sent solo.
//
// The Synchronizer is single-owner state driven by repeated ProcessQueues
// calls; it starts no goroutines.
package synchro

// Package preflight provides readiness checks for the directories and
// external binaries vampsync depends on.
//
// The daemon runs RunAll before its first pass and refuses to start when a
// required check fails. The CLI status command shows the same results.
package preflight

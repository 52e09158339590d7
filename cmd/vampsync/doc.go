// Package main hosts the vampsync CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, runs single
// synchronization passes, inspects frame files, queries the decision ledger,
// and exposes maintenance actions for crash leftovers, tier migration and
// configuration scaffolding. Heavy lifting lives in the internal packages;
// commands here resolve configuration and render results.
package main

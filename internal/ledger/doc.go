// Package ledger persists every classification the synchronizer makes in a
// SQLite database, so operators can audit where a frame file went and why.
//
// The store runs in WAL mode with a busy timeout and retries SQLITE_BUSY
// with bounded backoff, which lets the CLI read while the daemon writes.
package ledger

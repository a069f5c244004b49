// Package subprocess provides native process links for the worker pool.
//
// Process spawns a worker binary and exchanges newline-delimited JSON with it
// over the child's stdin and stdout; the child's stderr is captured for
// diagnostics. StdioLink is the child's side of the same pipe, built on the
// process's own stdin and stdout.
//
// Neither side can transfer native handles; sending one fails with
// ErrHandleUnsupported.
package subprocess

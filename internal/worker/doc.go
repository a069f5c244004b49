// Package worker runs a channel over a native process link.
//
// The parent side wraps a spawned child in a Process: it waits for the
// child's ready envelope, connects a channel over the link and exposes the
// child's remote interface. The child side connects back to its parent with
// ConnectParent. On the wire every channel message travels inside an
// envelope:
//
//	{"type":"ready"}
//	{"type":"rpc","message":{"type":"call","id":"0","method":"decrement","arguments":[5]}}
package worker

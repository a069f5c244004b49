// Package pool spreads calls over a set of worker processes.
//
// A Pool starts workers on demand through a ForkFunc, prefers starting a new
// worker over loading a busy one while it is under MaxWorkers, queues calls
// when it is saturated and retires workers that sit idle. Callers see one
// Remote whose methods are those of the workers.
package pool

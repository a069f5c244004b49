package pool

// EventType names a pool event.
type EventType string

const (
	// EventQueueLength fires whenever the pool stops draining its queue. It
	// carries the number of calls still waiting.
	EventQueueLength EventType = "queue-length"
	// EventShutdown fires once when the pool shuts down.
	EventShutdown EventType = "shutdown"
)

// Event is published to pool subscribers.
type Event struct {
	Type        EventType
	QueueLength int
}

// Stats is a snapshot of the pool's load.
type Stats struct {
	// Workers is the number of attached workers.
	Workers int
	// Starting is the number of workers being started.
	Starting int
	// Running is the number of calls dispatched to workers and not yet settled.
	Running int
	// Queued is the number of calls waiting for a worker.
	Queued int
}

package worker

// EventType names a worker lifecycle event.
type EventType string

const (
	// EventTaskStart fires when a call to the child is issued.
	EventTaskStart EventType = "task-start"
	// EventTaskEnd fires when a call to the child returns.
	EventTaskEnd EventType = "task-end"
	// EventTaskFail fires when a call to the child fails.
	EventTaskFail EventType = "task-fail"
	// EventDisconnect fires once when the worker goes away.
	EventDisconnect EventType = "disconnect"
)

// Event is published to worker subscribers.
type Event struct {
	Type   EventType
	Method string
	Err    error
}

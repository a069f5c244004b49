package channel

// EventType names a channel lifecycle event.
type EventType string

const (
	// EventConnectionTimeout fires when the handshake deadline passes.
	EventConnectionTimeout EventType = "connection-timeout"
	// EventMessageCall fires when an outgoing call is issued.
	EventMessageCall EventType = "message-call"
	// EventMessageResult fires when an outgoing call resolves.
	EventMessageResult EventType = "message-result"
	// EventMessageFail fires when an outgoing call rejects for any reason.
	EventMessageFail EventType = "message-fail"
	// EventMessageTimeout fires when an outgoing call is not acknowledged in time.
	EventMessageTimeout EventType = "message-timeout"
	// EventClose fires once when the channel closes.
	EventClose EventType = "close"
)

// Event is published to channel subscribers. Only the fields relevant to
// Type are set: ID and Method for call events, Result for message-result and
// Err for message-fail.
type Event struct {
	Type   EventType
	ID     string
	Method string
	Result *Result
	Err    error
}

package message

import "encoding/json"

// Type identifies a wire message.
type Type string

const (
	// TypeConnect opens the handshake and advertises the initiator's methods.
	TypeConnect Type = "connect"
	// TypeConnected completes the handshake and advertises the acceptor's methods.
	TypeConnected Type = "connected"
	// TypeClosed announces that the sender closed its channel.
	TypeClosed Type = "closed"
	// TypeCall invokes a method on the receiver.
	TypeCall Type = "call"
	// TypeAck acknowledges receipt of a call.
	TypeAck Type = "ack"
	// TypeException settles a call with an error.
	TypeException Type = "exception"
	// TypeReturn settles a call with a value.
	TypeReturn Type = "return"
)

// Message represents any message of the channel protocol.
// Use a type switch to determine the concrete type.
type Message interface {
	MessageType() Type
}

// Compile-time verification that all message types implement Message.
var (
	_ Message = (*Connect)(nil)
	_ Message = (*Connected)(nil)
	_ Message = (*Closed)(nil)
	_ Message = (*Call)(nil)
	_ Message = (*Ack)(nil)
	_ Message = (*Exception)(nil)
	_ Message = (*Return)(nil)
)

// Connect is sent by the initiating side of a channel.
//
// Methods is nil when the sender exposes no interface, which omits the field
// on the wire. An empty, non-nil slice is sent as [].
type Connect struct {
	Type    Type     `json:"type"`
	Methods []string `json:"methods,omitzero"`
}

// MessageType implements Message.
func (m *Connect) MessageType() Type { return TypeConnect }

// Connected answers a Connect.
type Connected struct {
	Type    Type     `json:"type"`
	Methods []string `json:"methods,omitzero"`
}

// MessageType implements Message.
func (m *Connected) MessageType() Type { return TypeConnected }

// Closed tells the peer the channel is gone.
type Closed struct {
	Type Type `json:"type"`
}

// MessageType implements Message.
func (m *Closed) MessageType() Type { return TypeClosed }

// Call invokes Method with positional Arguments.
//
// When one argument is a native handle it travels out-of-band; its slot in
// Arguments is null and HandleArgument holds its index.
type Call struct {
	Type           Type              `json:"type"`
	ID             string            `json:"id"`
	Method         string            `json:"method"`
	Arguments      []json.RawMessage `json:"arguments"`
	HandleArgument *int              `json:"handleArgument,omitempty"` //nolint:tagliatelle // wire format is camelCase
}

// MessageType implements Message.
func (m *Call) MessageType() Type { return TypeCall }

// Ack acknowledges that call ID was received and is executing.
type Ack struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

// MessageType implements Message.
func (m *Ack) MessageType() Type { return TypeAck }

// Exception settles call ID with an error payload.
type Exception struct {
	Type  Type            `json:"type"`
	ID    string          `json:"id"`
	Error json.RawMessage `json:"error"`
}

// MessageType implements Message.
func (m *Exception) MessageType() Type { return TypeException }

// Return settles call ID with a value.
type Return struct {
	Type   Type            `json:"type"`
	ID     string          `json:"id"`
	Return json.RawMessage `json:"return"`
}

// MessageType implements Message.
func (m *Return) MessageType() Type { return TypeReturn }

// NewConnect builds a Connect advertising methods.
func NewConnect(methods []string) *Connect {
	return &Connect{Type: TypeConnect, Methods: methods}
}

// NewConnected builds a Connected advertising methods.
func NewConnected(methods []string) *Connected {
	return &Connected{Type: TypeConnected, Methods: methods}
}

// NewClosed builds a Closed message.
func NewClosed() *Closed {
	return &Closed{Type: TypeClosed}
}

// NewAck builds an Ack for id.
func NewAck(id string) *Ack {
	return &Ack{Type: TypeAck, ID: id}
}

// NewException builds an Exception for id.
func NewException(id string, payload json.RawMessage) *Exception {
	return &Exception{Type: TypeException, ID: id, Error: payload}
}

// NewReturn builds a Return for id. A nil value is sent as null.
func NewReturn(id string, value json.RawMessage) *Return {
	if value == nil {
		value = json.RawMessage("null")
	}

	return &Return{Type: TypeReturn, ID: id, Return: value}
}

// Encode marshals a message to its wire form.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

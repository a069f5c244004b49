package message

import (
	"encoding/json"
	"fmt"

	"github.com/wagiedev/workerpool-go/internal/errors"
)

// EnvelopeType distinguishes the two concerns sharing a process pipe.
type EnvelopeType string

const (
	// EnvelopeReady is sent once by a child after its listener is attached.
	EnvelopeReady EnvelopeType = "ready"
	// EnvelopeRPC carries one channel protocol message.
	EnvelopeRPC EnvelopeType = "rpc"
)

// Envelope wraps channel traffic on a native process pipe.
//
// Wire format:
//
//	{"type": "ready"}
//	{"type": "rpc", "message": {"type": "call", ...}}
type Envelope struct {
	Type    EnvelopeType    `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

// EncodeReady returns the wire form of the ready envelope.
func EncodeReady() []byte {
	return []byte(`{"type":"ready"}`)
}

// WrapRPC wraps an encoded channel message in an rpc envelope.
func WrapRPC(data []byte) ([]byte, error) {
	return json.Marshal(&Envelope{Type: EnvelopeRPC, Message: data})
}

// ParseEnvelope decodes a process pipe envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &errors.DecodeError{RawData: string(data), Err: err}
	}

	switch env.Type {
	case EnvelopeReady:
	case EnvelopeRPC:
		if len(env.Message) == 0 {
			return nil, &errors.DecodeError{
				RawData: string(data),
				Err:     fmt.Errorf("rpc envelope missing 'message' field"),
			}
		}
	default:
		return nil, &errors.DecodeError{
			RawData: string(data),
			Err:     fmt.Errorf("unknown envelope type %q", env.Type),
		}
	}

	return &env, nil
}

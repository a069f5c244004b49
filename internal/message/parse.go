package message

import (
	"encoding/json"
	"fmt"

	"github.com/wagiedev/workerpool-go/internal/errors"
)

// Parse decodes one wire message.
//
// Returns a DecodeError if the data is not JSON, the type is missing or
// unknown, or a field required by the type is absent.
func Parse(data []byte) (Message, error) {
	var probe struct {
		Type Type `json:"type"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &errors.DecodeError{RawData: string(data), Err: err}
	}

	var (
		msg Message
		err error
	)

	switch probe.Type {
	case TypeConnect:
		msg, err = decode[Connect](data)
	case TypeConnected:
		msg, err = decode[Connected](data)
	case TypeClosed:
		msg, err = decode[Closed](data)
	case TypeCall:
		msg, err = parseCall(data)
	case TypeAck:
		msg, err = decodeWithID[Ack](data, func(m *Ack) string { return m.ID })
	case TypeException:
		msg, err = decodeWithID[Exception](data, func(m *Exception) string { return m.ID })
	case TypeReturn:
		msg, err = decodeWithID[Return](data, func(m *Return) string { return m.ID })
	case "":
		err = fmt.Errorf("missing or invalid 'type' field")
	default:
		err = fmt.Errorf("unknown message type %q", probe.Type)
	}

	if err != nil {
		return nil, &errors.DecodeError{RawData: string(data), Err: err}
	}

	return msg, nil
}

func decode[T any](data []byte) (*T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

func decodeWithID[T any](data []byte, id func(*T) string) (*T, error) {
	msg, err := decode[T](data)
	if err != nil {
		return nil, err
	}

	if id(msg) == "" {
		return nil, fmt.Errorf("missing 'id' field")
	}

	return msg, nil
}

func parseCall(data []byte) (*Call, error) {
	msg, err := decodeWithID[Call](data, func(m *Call) string { return m.ID })
	if err != nil {
		return nil, err
	}

	if msg.Method == "" {
		return nil, fmt.Errorf("call %s: missing 'method' field", msg.ID)
	}

	if h := msg.HandleArgument; h != nil && (*h < 0 || *h >= len(msg.Arguments)) {
		return nil, fmt.Errorf("call %s: handleArgument %d out of range", msg.ID, *h)
	}

	return msg, nil
}

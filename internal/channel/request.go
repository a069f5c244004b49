package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/message"
)

// Method handles one inbound call. The returned value is sent back as JSON,
// unless it is a native handle (see message.AsHandle), which is transferred
// out-of-band instead.
type Method func(ctx context.Context, req *Request) (any, error)

// Interface is the set of methods a side exposes to its peer.
// A nil Interface advertises nothing; an empty one advertises an empty set.
type Interface map[string]Method

// names returns the advertised method names, sorted, or nil for a nil Interface.
func (i Interface) names() []string {
	if i == nil {
		return nil
	}

	names := slices.AppendSeq(make([]string, 0, len(i)), maps.Keys(i))
	slices.Sort(names)

	return names
}

// Request is an inbound call as seen by a Method.
type Request struct {
	ID     string
	Method string
	Args   []json.RawMessage

	// Handle is the out-of-band argument, if the caller sent one.
	// HandleIndex is its position in Args, or -1.
	Handle      message.Handle
	HandleIndex int
}

// Bind decodes positional arguments into dst. It fails if fewer arguments
// were sent than dst has entries; extra arguments are ignored.
func (r *Request) Bind(dst ...any) error {
	for i, d := range dst {
		if i >= len(r.Args) {
			return fmt.Errorf("%s: missing argument %d", r.Method, i)
		}

		if i == r.HandleIndex {
			continue
		}

		if err := json.Unmarshal(r.Args[i], d); err != nil {
			return fmt.Errorf("%s: argument %d: %w", r.Method, i, err)
		}
	}

	return nil
}

// Result is the settled value of a remote call.
type Result struct {
	// Value is the JSON return value; "null" when Handle is set.
	Value json.RawMessage

	// Handle is an out-of-band handle returned by the peer. It takes
	// priority over Value.
	Handle message.Handle
}

// Decode unmarshals the return value into v.
func (r *Result) Decode(v any) error {
	if len(r.Value) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}

	return json.Unmarshal(r.Value, v)
}

// encodeArgs marshals call arguments. At most one argument may be a native
// handle; its slot is sent as null and its index returned.
func encodeArgs(args []any) ([]json.RawMessage, *int, message.Handle, error) {
	raw := make([]json.RawMessage, len(args))

	var (
		handleIdx *int
		handle    message.Handle
	)

	for i, arg := range args {
		if h, ok := message.AsHandle(arg); ok {
			if handle != nil {
				return nil, nil, nil, errors.ErrTooManyHandles
			}

			idx := i
			handleIdx = &idx
			handle = h
			raw[i] = json.RawMessage("null")

			continue
		}

		data, err := json.Marshal(arg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal argument %d: %w", i, err)
		}

		raw[i] = data
	}

	return raw, handleIdx, handle, nil
}

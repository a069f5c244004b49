package message

import (
	"net"
	"os"
)

// Handle is a native resource that travels beside a message instead of
// inside its JSON body.
type Handle interface {
	Close() error
}

// Packet is one unit delivered by a transport: the encoded message and the
// handle sent with it, if any.
type Packet struct {
	Data   []byte
	Handle Handle
}

// AsHandle reports whether v is a transferable native handle.
// Only sockets, listeners and files qualify.
func AsHandle(v any) (Handle, bool) {
	switch h := v.(type) {
	case net.Conn:
		return h, true
	case net.Listener:
		return h, true
	case *os.File:
		return h, true
	default:
		return nil, false
	}
}

package worker

import (
	"context"
	"os"

	"github.com/wagiedev/workerpool-go/internal/message"
)

// Link is a bidirectional message stream to the other side of a process
// boundary.
type Link interface {
	// ReadMessages returns inbound packets and errors. The packet channel is
	// closed when the link ends.
	ReadMessages(ctx context.Context) (<-chan message.Packet, <-chan error)

	// SendMessage writes one message, optionally carrying a native handle.
	SendMessage(ctx context.Context, data []byte, handle message.Handle) error

	// Disconnect closes the link. It is safe to call repeatedly.
	Disconnect() error
}

// Native is the parent's handle on a spawned child process.
type Native interface {
	Link

	// Pid returns the child's process id.
	Pid() int

	// Kill sends sig to the child.
	Kill(sig os.Signal) error
}

// Package mem provides an in-process transport pair. Both ends satisfy the
// channel transport and the worker link contracts, so it stands in for a
// native process pipe in tests and for in-process workers.
package mem

import (
	"context"
	"os"
	"sync"

	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/message"
)

const inboxSize = 256

// link is the state shared by both ends of a pipe.
type link struct {
	closeOnce sync.Once
	done      chan struct{}
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// End is one side of an in-memory pipe.
type End struct {
	link  *link
	inbox chan message.Packet
	errs  chan error
	peer  *End

	readOnce sync.Once
	out      chan message.Packet
}

// Pipe returns two connected ends. Packets sent on one are received on the
// other in order, handles included.
func Pipe() (*End, *End) {
	l := &link{done: make(chan struct{})}
	a := &End{link: l, inbox: make(chan message.Packet, inboxSize), errs: make(chan error, 1)}
	b := &End{link: l, inbox: make(chan message.Packet, inboxSize), errs: make(chan error, 1)}
	a.peer, b.peer = b, a

	return a, b
}

// ReadMessages returns the packets sent by the peer. The packet channel is
// closed once either end disconnects and everything sent before that point
// has been delivered. Repeated calls return the same channels.
func (e *End) ReadMessages(ctx context.Context) (<-chan message.Packet, <-chan error) {
	e.readOnce.Do(func() {
		e.out = make(chan message.Packet)

		go e.forward(ctx)
	})

	return e.out, e.errs
}

func (e *End) forward(ctx context.Context) {
	defer close(e.out)

	for {
		select {
		case p := <-e.inbox:
			if !e.deliver(ctx, p) {
				return
			}

		case <-e.link.done:
			for {
				select {
				case p := <-e.inbox:
					if !e.deliver(ctx, p) {
						return
					}
				default:
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (e *End) deliver(ctx context.Context, p message.Packet) bool {
	select {
	case e.out <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// SendMessage delivers data and handle to the peer.
func (e *End) SendMessage(ctx context.Context, data []byte, handle message.Handle) error {
	select {
	case <-e.link.done:
		return errors.ErrDisconnected
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case e.peer.inbox <- message.Packet{Data: buf, Handle: handle}:
		return nil
	case <-e.link.done:
		return errors.ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the pipe for both ends. It is safe to call repeatedly.
func (e *End) Disconnect() error {
	e.link.close()

	return nil
}

// Disconnected returns a channel closed once the pipe is disconnected.
func (e *End) Disconnected() <-chan struct{} {
	return e.link.done
}

// Fail reports err on this end's error channel, as a native error event
// would. It does not block if an error is already pending.
func (e *End) Fail(err error) {
	select {
	case e.errs <- err:
	default:
	}
}

// Process is the parent's view of an in-memory child.
type Process struct {
	*End

	pid int

	mu      sync.Mutex
	signals []os.Signal
}

// NewProcess returns a fake child process with the given pid and the end its
// child side should use.
func NewProcess(pid int) (*Process, *End) {
	parent, child := Pipe()

	return &Process{End: parent, pid: pid}, child
}

// Pid returns the fake process id.
func (p *Process) Pid() int {
	return p.pid
}

// Kill records sig and tears down the pipe, as the exit of a real child would.
func (p *Process) Kill(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()

	return p.Disconnect()
}

// Signals returns every signal passed to Kill.
func (p *Process) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]os.Signal, len(p.signals))
	copy(out, p.signals)

	return out
}

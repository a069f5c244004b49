package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wagiedev/workerpool-go/internal/channel"
	"github.com/wagiedev/workerpool-go/internal/event"
)

// Parent is a child's connection back to the process that spawned it.
type Parent struct {
	log       *slog.Logger
	link      Link
	transport *envelopeTransport
	ch        *channel.Channel
	remote    *channel.Remote
	events    event.Emitter[Event]

	mu          sync.Mutex
	shut        bool
	unsubscribe func()

	cancel context.CancelFunc
	done   chan struct{}
}

// ConnectParent offers local to the parent on the other end of link. It
// announces readiness, waits for the parent's handshake and returns once the
// parent's interface is known.
//
// ctx bounds the handshake only.
func ConnectParent(
	ctx context.Context,
	log *slog.Logger,
	link Link,
	local channel.Interface,
	opts ...Option,
) (*Parent, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	o := applyOptions(opts)
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p := &Parent{
		log:    log.With("component", "parent"),
		link:   link,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.transport = newEnvelopeTransport(lifetime, p.log, link)
	p.ch = channel.Create(lifetime, p.log, p.transport, local,
		channel.WithConnectTimeout(o.ConnectTimeout),
		channel.WithCallTimeout(o.CallTimeout),
	)

	unsubscribe := p.ch.Subscribe(func(e channel.Event) {
		if e.Type == channel.EventClose {
			p.Shutdown()
		}
	})

	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	go p.watch()

	if err := p.transport.sendReady(ctx); err != nil {
		p.Shutdown()

		return nil, fmt.Errorf("announce ready: %w", err)
	}

	remote, err := p.ch.Remote(ctx)
	if err != nil {
		p.log.Warn("Parent handshake failed", "error", err)
		p.Shutdown()

		return nil, err
	}

	p.remote = remote
	p.log.Debug("Connected to parent", "methods", remote.Methods())

	return p, nil
}

func (p *Parent) watch() {
	select {
	case <-p.transport.Ended():
		p.Shutdown()
	case <-p.ch.Done():
		p.Shutdown()
	case <-p.done:
	}
}

// Remote returns the parent's interface. It is nil if the parent offers none.
func (p *Parent) Remote() *channel.Remote {
	return p.remote
}

// Subscribe registers fn for EventDisconnect.
func (p *Parent) Subscribe(fn func(Event)) func() {
	return p.events.Subscribe(fn)
}

// Done is closed once the connection to the parent is gone.
func (p *Parent) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the local methods still running for the parent have
// returned. Their contexts are cancelled by Shutdown.
func (p *Parent) Wait() {
	p.ch.Wait()
}

// Shutdown closes the channel and the link. It is safe to call repeatedly.
func (p *Parent) Shutdown() {
	p.mu.Lock()

	if p.shut {
		p.mu.Unlock()

		return
	}

	p.shut = true
	unsubscribe := p.unsubscribe
	p.mu.Unlock()

	_ = p.ch.Close()

	close(p.done)
	p.events.Emit(Event{Type: EventDisconnect})
	p.events.Clear()

	if unsubscribe != nil {
		unsubscribe()
	}

	p.cancel()

	if err := p.link.Disconnect(); err != nil {
		p.log.Debug("Failed to disconnect from parent", "error", err)
	}

	p.log.Info("Disconnected from parent")
}

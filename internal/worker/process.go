package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/workerpool-go/internal/channel"
	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/event"
)

// Process is the parent's view of one attached child.
//
// A Process disconnects exactly once: when its channel closes, when a call
// to the child goes unacknowledged, when the child's stream ends or reports
// an error, or when it is killed. Disconnect is published as EventDisconnect
// and closes Done.
type Process struct {
	id        string
	log       *slog.Logger
	native    Native
	opts      Options
	transport *envelopeTransport
	ch        *channel.Channel
	remote    *channel.Remote
	events    event.Emitter[Event]

	mu          sync.Mutex
	shut        bool
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Attach waits for native to announce it is ready, connects a channel to it
// offering local, and returns once the child's interface is known.
//
// ctx bounds the attach only; the attached worker lives until it disconnects
// or is killed. If the child is not ready within the ready timeout it is
// killed and Attach returns an AttachError wrapping ErrWorkerConnectTimeout.
func Attach(
	ctx context.Context,
	log *slog.Logger,
	native Native,
	local channel.Interface,
	opts ...Option,
) (*Process, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id := ulid.Make().String()
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p := &Process{
		id:     id,
		log:    log.With("component", "worker", "worker_id", id, "pid", native.Pid()),
		native: native,
		opts:   applyOptions(opts),
		ctx:    lifetime,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.transport = newEnvelopeTransport(lifetime, p.log, native)

	if err := p.awaitReady(ctx); err != nil {
		p.log.Warn("Worker did not become ready", "error", err)
		p.abort()

		return nil, &errors.AttachError{Pid: native.Pid(), Err: err}
	}

	p.ch = channel.Connect(lifetime, p.log, p.transport, local,
		channel.WithConnectTimeout(p.opts.ConnectTimeout),
		channel.WithCallTimeout(p.opts.CallTimeout),
	)

	unsubscribe := p.ch.Subscribe(p.handleChannelEvent)

	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	go p.watch()

	remote, err := p.ch.Remote(ctx)
	if err != nil {
		p.log.Warn("Worker handshake failed", "error", err)
		p.shutdown("handshake failed")
		_ = native.Kill(os.Kill)

		return nil, &errors.AttachError{Pid: native.Pid(), Err: err}
	}

	p.remote = remote
	p.log.Info("Worker attached", "methods", remote.Methods())

	return p, nil
}

// awaitReady blocks until the child's ready envelope arrives.
func (p *Process) awaitReady(ctx context.Context) error {
	timer := time.NewTimer(p.opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-p.transport.Ready():
		return nil
	case <-p.transport.Ended():
		if err := p.transport.Err(); err != nil {
			return err
		}

		return errors.ErrDisconnected
	case <-timer.C:
		return errors.ErrWorkerConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abort tears down a child that never attached.
func (p *Process) abort() {
	if err := p.native.Kill(os.Kill); err != nil {
		p.log.Debug("Failed to kill unattached worker", "error", err)
	}

	_ = p.native.Disconnect()
	p.cancel()
}

// watch disconnects the worker when its stream or channel ends.
func (p *Process) watch() {
	select {
	case <-p.transport.Ended():
		p.shutdown("worker stream ended")
	case <-p.ch.Done():
		p.shutdown("channel closed")
	case <-p.done:
	}
}

func (p *Process) handleChannelEvent(e channel.Event) {
	switch e.Type {
	case channel.EventMessageCall:
		p.events.Emit(Event{Type: EventTaskStart, Method: e.Method})
	case channel.EventMessageResult:
		p.events.Emit(Event{Type: EventTaskEnd, Method: e.Method})
	case channel.EventMessageFail:
		p.events.Emit(Event{Type: EventTaskFail, Method: e.Method, Err: e.Err})
	case channel.EventMessageTimeout:
		p.shutdown("call timed out")
	case channel.EventClose:
		p.shutdown("channel closed")
	case channel.EventConnectionTimeout:
	}
}

// shutdown disconnects the worker once.
func (p *Process) shutdown(reason string) {
	p.mu.Lock()

	if p.shut {
		p.mu.Unlock()

		return
	}

	p.shut = true
	unsubscribe := p.unsubscribe
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	_ = p.ch.Close()
	p.cancel()

	if err := p.native.Disconnect(); err != nil {
		p.log.Debug("Failed to disconnect worker", "error", err)
	}

	close(p.done)

	p.log.Info("Worker disconnected", "reason", reason)
	p.events.Emit(Event{Type: EventDisconnect})
	p.events.Clear()
}

// ID returns the worker's unique identifier, used in logs.
func (p *Process) ID() string {
	return p.id
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.native.Pid()
}

// Remote returns the child's interface. It is nil if the child offers none.
func (p *Process) Remote() *channel.Remote {
	return p.remote
}

// Subscribe registers fn for worker events.
func (p *Process) Subscribe(fn func(Event)) func() {
	return p.events.Subscribe(fn)
}

// Done is closed once the worker has disconnected.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Disconnected reports whether the worker has disconnected.
func (p *Process) Disconnected() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Kill disconnects the child, sends it sig and waits for it to go away. If
// it is still there after the kill timeout it is sent os.Kill. Cancelling
// ctx stops the wait; the worker is then disconnected locally.
func (p *Process) Kill(ctx context.Context, sig os.Signal) error {
	p.log.Debug("Killing worker", "signal", sig)

	if err := p.native.Disconnect(); err != nil {
		p.log.Debug("Failed to disconnect worker", "error", err)
	}

	if err := p.native.Kill(sig); err != nil {
		p.shutdown("kill failed")

		return fmt.Errorf("kill worker %d: %w", p.Pid(), err)
	}

	grace := time.NewTimer(p.opts.KillTimeout)
	defer grace.Stop()

	for {
		select {
		case <-p.done:
			return nil

		case <-grace.C:
			p.log.Warn("Worker ignored signal, escalating", "signal", sig)

			if err := p.native.Kill(os.Kill); err != nil {
				p.log.Debug("Failed to kill worker", "error", err)
			}

			p.shutdown("killed")

			return nil

		case <-ctx.Done():
			p.shutdown("kill abandoned")

			return ctx.Err()
		}
	}
}

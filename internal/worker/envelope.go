package worker

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/message"
)

const errBufferSize = 8

// envelopeTransport adapts a Link to the channel transport. Outbound channel
// messages are wrapped in rpc envelopes; inbound rpc envelopes are unwrapped
// and ready envelopes are surfaced separately.
type envelopeTransport struct {
	log  *slog.Logger
	link Link

	readyOnce sync.Once
	ready     chan struct{}

	packets chan message.Packet
	errs    chan error

	mu     sync.Mutex
	endErr error
	ended  chan struct{}
}

// newEnvelopeTransport starts reading link immediately so that a ready
// envelope sent before the channel exists is not missed. Reading stops when
// the link ends or ctx is cancelled.
func newEnvelopeTransport(ctx context.Context, log *slog.Logger, link Link) *envelopeTransport {
	t := &envelopeTransport{
		log:     log,
		link:    link,
		ready:   make(chan struct{}),
		packets: make(chan message.Packet),
		errs:    make(chan error, errBufferSize),
		ended:   make(chan struct{}),
	}

	go t.pump(ctx)

	return t
}

// ReadMessages returns the unwrapped rpc messages. ctx is unused: the pump
// is bound to the context the transport was created with.
func (t *envelopeTransport) ReadMessages(context.Context) (<-chan message.Packet, <-chan error) {
	return t.packets, t.errs
}

// SendMessage wraps data in an rpc envelope and writes it to the link.
func (t *envelopeTransport) SendMessage(ctx context.Context, data []byte, handle message.Handle) error {
	wrapped, err := message.WrapRPC(data)
	if err != nil {
		return err
	}

	return t.link.SendMessage(ctx, wrapped, handle)
}

// sendReady announces that this side is ready for the handshake.
func (t *envelopeTransport) sendReady(ctx context.Context) error {
	return t.link.SendMessage(ctx, message.EncodeReady(), nil)
}

// Ready is closed when the peer's ready envelope arrives.
func (t *envelopeTransport) Ready() <-chan struct{} {
	return t.ready
}

// Ended is closed when the link's stream ends.
func (t *envelopeTransport) Ended() <-chan struct{} {
	return t.ended
}

// Err returns the first non-decode error the link reported, if any.
func (t *envelopeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.endErr
}

func (t *envelopeTransport) pump(ctx context.Context) {
	defer close(t.ended)
	defer close(t.packets)

	in, errs := t.link.ReadMessages(ctx)

	for {
		select {
		case pkt, ok := <-in:
			if !ok {
				t.drainErrors(ctx, errs)
				t.log.Debug("Link stream ended")

				return
			}

			t.handle(ctx, pkt)

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			t.forwardError(ctx, err)

		case <-ctx.Done():
			return
		}
	}
}

// drainErrors forwards errors the link reported just before its stream
// closed, such as an abnormal exit.
func (t *envelopeTransport) drainErrors(ctx context.Context, errs <-chan error) {
	if errs == nil {
		return
	}

	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}

			t.forwardError(ctx, err)
		default:
			return
		}
	}
}

func (t *envelopeTransport) handle(ctx context.Context, pkt message.Packet) {
	env, err := message.ParseEnvelope(pkt.Data)
	if err != nil {
		t.forwardError(ctx, err)

		return
	}

	switch env.Type {
	case message.EnvelopeReady:
		t.readyOnce.Do(func() {
			t.log.Debug("Peer is ready")
			close(t.ready)
		})

	case message.EnvelopeRPC:
		select {
		case t.packets <- message.Packet{Data: env.Message, Handle: pkt.Handle}:
		case <-ctx.Done():
		}
	}
}

// forwardError hands err to the channel. Malformed frames are dropped when
// nothing is reading yet, so they never stall the pump before the handshake.
func (t *envelopeTransport) forwardError(ctx context.Context, err error) {
	if _, malformed := stderrors.AsType[*errors.DecodeError](err); malformed {
		select {
		case t.errs <- err:
		default:
			t.log.Debug("Dropped malformed frame", "error", err)
		}

		return
	}

	t.mu.Lock()
	if t.endErr == nil {
		t.endErr = err
	}
	t.mu.Unlock()

	t.log.Warn("Link error", "error", err)

	select {
	case t.errs <- err:
	case <-ctx.Done():
	}
}

package channel

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/event"
	"github.com/wagiedev/workerpool-go/internal/message"
)

// Transport is the duplex link a Channel runs over.
//
// ReadMessages yields packets in delivery order; closing the packet channel
// means the peer is gone. Errors that are DecodeErrors are treated as
// malformed input and dropped; any other error closes the channel.
type Transport interface {
	ReadMessages(ctx context.Context) (<-chan message.Packet, <-chan error)
	SendMessage(ctx context.Context, data []byte, handle message.Handle) error
}

type state int

const (
	stateConnecting state = iota
	stateConnected
	stateClosing
	stateClosed
)

// call tracks an outgoing call awaiting settlement.
type call struct {
	id     string
	method string
	result chan callResult
	timer  *time.Timer
	acked  bool
}

type callResult struct {
	res *Result
	err error
}

// Channel multiplexes calls in both directions over one Transport.
//
// A Channel moves from connecting to connected when the handshake completes
// and to closed on Close, on a peer's closed message, or when the transport
// ends. Closed is terminal: nothing further is sent or accepted.
type Channel struct {
	id        string
	log       *slog.Logger
	transport Transport
	local     Interface
	opts      Options
	events    event.Emitter[Event]

	mu           sync.Mutex
	state        state
	nextID       uint64
	pending      map[string]*call
	connectTimer *time.Timer

	// Handshake result, published by closing ready.
	readyOnce sync.Once
	ready     chan struct{}
	remote    *Remote
	remoteErr error

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Create returns a Channel in acceptor mode. It waits for the peer's connect
// message and answers it with the methods of local.
//
// Cancelling ctx closes the channel without notifying the peer.
func Create(
	ctx context.Context,
	log *slog.Logger,
	transport Transport,
	local Interface,
	opts ...Option,
) *Channel {
	c := newChannel(ctx, log, transport, local, opts)
	c.log.Debug("Channel created, awaiting connect")

	return c
}

// Connect returns a Channel in initiator mode. It sends connect with the
// methods of local immediately; a send failure fails the handshake.
//
// Cancelling ctx closes the channel without notifying the peer.
func Connect(
	ctx context.Context,
	log *slog.Logger,
	transport Transport,
	local Interface,
	opts ...Option,
) *Channel {
	c := newChannel(ctx, log, transport, local, opts)
	c.log.Debug("Channel connecting", "methods", c.local.names())

	if err := c.send(c.ctx, message.NewConnect(c.local.names()), nil); err != nil {
		c.log.Warn("Failed to send connect", "error", err)
		c.settleHandshake(nil, err)
	}

	return c
}

func newChannel(
	ctx context.Context,
	log *slog.Logger,
	transport Transport,
	local Interface,
	opts []Option,
) *Channel {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id := ulid.Make().String()
	lifetime, cancel := context.WithCancel(ctx)

	c := &Channel{
		id:        id,
		log:       log.With("component", "channel", "channel_id", id),
		transport: transport,
		local:     local,
		opts:      applyOptions(opts),
		pending:   make(map[string]*call, 10),
		ready:     make(chan struct{}),
		ctx:       lifetime,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.connectTimer = time.AfterFunc(c.opts.ConnectTimeout, c.handshakeExpired)
	c.mu.Unlock()

	packets, errs := transport.ReadMessages(lifetime)

	c.wg.Add(1)

	go c.readLoop(packets, errs)

	return c
}

// ID returns the channel's unique identifier, used in logs.
func (c *Channel) ID() string {
	return c.id
}

// Subscribe registers fn for channel events and returns an unsubscribe
// function. Events are delivered synchronously; fn must not block.
func (c *Channel) Subscribe(fn func(Event)) func() {
	return c.events.Subscribe(fn)
}

// Done returns a channel that is closed when the Channel closes.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether the channel is closing or closed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state >= stateClosing
}

// Remote waits for the handshake and returns the peer's remote interface.
//
// The returned Remote is nil, with a nil error, when the peer exposes no
// interface. The error is ErrConnectionTimeout if the peer never answered,
// ErrChannelClosed if the channel closed first, or a TransportError if the
// handshake could not be sent.
func (c *Channel) Remote(ctx context.Context) (*Remote, error) {
	select {
	case <-c.ready:
		return c.remote, c.remoteErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RemoteCall invokes method on the peer and waits for its result.
//
// The call fails with ErrChannelClosed immediately if the channel is closed,
// with ErrCallTimeout if the peer does not acknowledge it within the call
// timeout, with a RemoteError if the peer's method failed, and with
// ErrClosedBeforeReturn if the channel closes while it is outstanding.
// Cancelling ctx abandons the call; a late result is discarded.
func (c *Channel) RemoteCall(ctx context.Context, method string, args ...any) (*Result, error) {
	if c.Closed() {
		return nil, errors.ErrChannelClosed
	}

	raw, handleIdx, handle, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()

	if c.state >= stateClosing {
		c.mu.Unlock()

		return nil, errors.ErrChannelClosed
	}

	id := strconv.FormatUint(c.nextID, 10)
	c.nextID++

	cl := &call{
		id:     id,
		method: method,
		result: make(chan callResult, 1),
	}
	cl.timer = time.AfterFunc(c.opts.CallTimeout, func() { c.callExpired(id) })
	c.pending[id] = cl

	c.mu.Unlock()

	c.log.Debug("Sending call", "call_id", id, "method", method)
	c.events.Emit(Event{Type: EventMessageCall, ID: id, Method: method})

	msg := &message.Call{
		Type:           message.TypeCall,
		ID:             id,
		Method:         method,
		Arguments:      raw,
		HandleArgument: handleIdx,
	}

	if err := c.send(ctx, msg, handle); err != nil {
		c.log.Warn("Failed to send call", "call_id", id, "method", method, "error", err)
		c.fail(id, err)
	}

	select {
	case r := <-cl.result:
		return r.res, r.err

	case <-ctx.Done():
		if c.fail(id, ctx.Err()) {
			c.log.Debug("Call abandoned by caller", "call_id", id, "method", method)
		}

		r := <-cl.result

		return r.res, r.err
	}
}

// Close notifies the peer and tears the channel down. Every outstanding call
// fails with ErrClosedBeforeReturn. It is safe to call Close multiple times.
func (c *Channel) Close() error {
	c.mu.Lock()

	if c.state >= stateClosing {
		c.mu.Unlock()

		return nil
	}

	c.state = stateClosing
	c.mu.Unlock()

	c.log.Debug("Closing channel")

	ctx, cancel := context.WithTimeout(c.ctx, closeSendTimeout)
	defer cancel()

	if err := c.send(ctx, message.NewClosed(), nil); err != nil {
		c.log.Debug("Could not notify peer of close", "error", err)
	}

	c.teardown("closed locally")

	return nil
}

// Wait blocks until the read loop and every running local method have returned.
func (c *Channel) Wait() {
	c.wg.Wait()
}

// readLoop processes inbound packets in delivery order.
func (c *Channel) readLoop(packets <-chan message.Packet, errs <-chan error) {
	defer c.wg.Done()
	defer c.log.Debug("Channel read loop stopped")

	for {
		select {
		case p, ok := <-packets:
			if !ok {
				c.teardown("transport closed")

				return
			}

			c.handlePacket(p)

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			if _, malformed := stderrors.AsType[*errors.DecodeError](err); malformed {
				c.log.Warn("Dropping malformed message", "error", err)

				continue
			}

			c.log.Warn("Transport error", "error", err)
			c.teardown("transport error")

			return

		case <-c.done:
			return

		case <-c.ctx.Done():
			c.teardown("context cancelled")

			return
		}
	}
}

// handlePacket routes one inbound packet.
func (c *Channel) handlePacket(p message.Packet) {
	if c.Closed() {
		c.log.Debug("Ignoring message on closed channel")

		return
	}

	msg, err := message.Parse(p.Data)
	if err != nil {
		c.log.Warn("Dropping malformed message", "error", err)

		return
	}

	switch m := msg.(type) {
	case *message.Connect:
		c.handleConnect(m)

	case *message.Connected:
		c.log.Debug("Received connected", "methods", m.Methods)
		c.settleHandshake(m.Methods, nil)

	case *message.Closed:
		c.log.Debug("Peer closed channel")
		c.teardown("closed by peer")

	case *message.Call:
		c.handleCall(m, p.Handle)

	case *message.Ack:
		c.handleAck(m.ID)

	case *message.Return:
		c.resolve(m.ID, &Result{Value: m.Return, Handle: p.Handle})

	case *message.Exception:
		c.fail(m.ID, errors.NewRemoteError(m.Error))
	}
}

// handleConnect answers a connect and resolves the remote interface.
func (c *Channel) handleConnect(m *message.Connect) {
	c.log.Debug("Received connect", "methods", m.Methods)

	if err := c.send(c.ctx, message.NewConnected(c.local.names()), nil); err != nil {
		c.log.Warn("Failed to send connected", "error", err)
		c.settleHandshake(nil, err)

		return
	}

	c.settleHandshake(m.Methods, nil)
}

// handleAck stops the timeout of an outstanding call. The call stays
// registered until it returns.
func (c *Channel) handleAck(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.pending[id]
	if !ok {
		c.log.Debug("Ack for unknown call", "call_id", id)

		return
	}

	cl.acked = true
	cl.timer.Stop()
}

// handleCall acknowledges an inbound call and runs the local method.
func (c *Channel) handleCall(m *message.Call, handle message.Handle) {
	c.log.Debug("Received call", "call_id", m.ID, "method", m.Method)

	if err := c.send(c.ctx, message.NewAck(m.ID), nil); err != nil {
		c.log.Warn("Failed to send ack", "call_id", m.ID, "error", err)
	}

	if c.local == nil {
		c.reply(m.ID, nil, errors.ErrNoInterface)

		return
	}

	method, ok := c.local[m.Method]
	if !ok {
		c.reply(m.ID, nil, fmt.Errorf("Method %s does not exist.", m.Method)) //nolint:staticcheck // ST1005: peer-visible message

		return
	}

	req := &Request{
		ID:          m.ID,
		Method:      m.Method,
		Args:        m.Arguments,
		Handle:      handle,
		HandleIndex: -1,
	}

	if m.HandleArgument != nil {
		req.HandleIndex = *m.HandleArgument
	}

	c.wg.Go(func() {
		value, err := invoke(c.ctx, method, req)
		c.reply(m.ID, value, err)
	})
}

// invoke runs a local method, converting a panic into an error.
func invoke(ctx context.Context, method Method, req *Request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", req.Method, r)
		}
	}()

	return method(ctx, req)
}

// reply sends the outcome of a local method to the peer.
func (c *Channel) reply(id string, value any, callErr error) {
	if c.Closed() {
		c.log.Debug("Dropping reply on closed channel", "call_id", id)

		return
	}

	if callErr != nil {
		c.log.Debug("Local method failed", "call_id", id, "error", callErr)

		if err := c.send(c.ctx, message.NewException(id, errorPayload(callErr)), nil); err != nil {
			c.log.Warn("Failed to send exception", "call_id", id, "error", err)
		}

		return
	}

	if h, ok := message.AsHandle(value); ok {
		if err := c.send(c.ctx, message.NewReturn(id, nil), h); err != nil {
			c.log.Warn("Failed to send handle return", "call_id", id, "error", err)
		}

		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.reply(id, nil, fmt.Errorf("marshal return value: %w", err))

		return
	}

	if err := c.send(c.ctx, message.NewReturn(id, data), nil); err != nil {
		c.log.Warn("Failed to send return", "call_id", id, "error", err)
	}
}

// errorPayload encodes err for an exception message. Errors that came from
// a further peer are forwarded unchanged.
func errorPayload(err error) json.RawMessage {
	if remote, ok := stderrors.AsType[*errors.RemoteError](err); ok && len(remote.Raw) > 0 {
		return remote.Raw
	}

	data, mErr := json.Marshal(&errors.ErrorPayload{Message: err.Error()})
	if mErr != nil {
		return json.RawMessage(strconv.Quote(err.Error()))
	}

	return data
}

// claim removes and returns an outstanding call.
func (c *Channel) claim(id string) *call {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.pending[id]
	if !ok {
		return nil
	}

	delete(c.pending, id)
	cl.timer.Stop()

	return cl
}

// resolve settles call id with res. It reports whether the call was still
// outstanding.
func (c *Channel) resolve(id string, res *Result) bool {
	cl := c.claim(id)
	if cl == nil {
		c.log.Debug("Return for unknown call", "call_id", id)

		return false
	}

	cl.result <- callResult{res: res}

	c.events.Emit(Event{Type: EventMessageResult, ID: id, Method: cl.method, Result: res})

	return true
}

// fail settles call id with err. It reports whether the call was still
// outstanding.
func (c *Channel) fail(id string, err error) bool {
	cl := c.claim(id)
	if cl == nil {
		return false
	}

	cl.result <- callResult{err: err}

	c.events.Emit(Event{Type: EventMessageFail, ID: id, Method: cl.method, Err: err})

	return true
}

// callExpired fails a call that was not acknowledged in time.
func (c *Channel) callExpired(id string) {
	c.mu.Lock()

	cl, ok := c.pending[id]
	if !ok || cl.acked {
		c.mu.Unlock()

		return
	}

	delete(c.pending, id)
	c.mu.Unlock()

	c.log.Warn("Call timed out", "call_id", id, "method", cl.method, "timeout", c.opts.CallTimeout)

	cl.result <- callResult{err: errors.ErrCallTimeout}

	c.events.Emit(Event{Type: EventMessageTimeout, ID: id, Method: cl.method})
	c.events.Emit(Event{Type: EventMessageFail, ID: id, Method: cl.method, Err: errors.ErrCallTimeout})
}

// handshakeExpired fails the handshake if the peer has not answered.
func (c *Channel) handshakeExpired() {
	if !c.settleHandshake(nil, errors.ErrConnectionTimeout) {
		return
	}

	c.log.Warn("Handshake timed out", "timeout", c.opts.ConnectTimeout)
	c.events.Emit(Event{Type: EventConnectionTimeout})
}

// settleHandshake publishes the handshake outcome once. On success methods
// becomes the remote interface; nil methods means the peer exposes none.
func (c *Channel) settleHandshake(methods []string, err error) bool {
	settled := false

	c.readyOnce.Do(func() {
		settled = true

		c.mu.Lock()

		if c.connectTimer != nil {
			c.connectTimer.Stop()
		}

		if err == nil && methods != nil {
			c.remote = newRemote(c, methods)
		}

		c.remoteErr = err

		if err == nil && c.state == stateConnecting {
			c.state = stateConnected
		}

		c.mu.Unlock()

		close(c.ready)
	})

	if settled && err == nil {
		c.log.Debug("Channel connected")
	}

	return settled
}

// teardown performs local close exactly once: it fails every outstanding
// call, marks the channel closed and emits close.
func (c *Channel) teardown(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		pending := c.pending
		c.pending = make(map[string]*call)

		if c.connectTimer != nil {
			c.connectTimer.Stop()
		}

		c.mu.Unlock()

		close(c.done)
		c.cancel()

		c.settleHandshake(nil, errors.ErrChannelClosed)

		for id, cl := range pending {
			cl.timer.Stop()
			cl.result <- callResult{err: errors.ErrClosedBeforeReturn}

			c.events.Emit(Event{Type: EventMessageFail, ID: id, Method: cl.method, Err: errors.ErrClosedBeforeReturn})
		}

		c.log.Info("Channel closed", "reason", reason, "failed_calls", len(pending))
		c.events.Emit(Event{Type: EventClose})
	})
}

// send encodes and writes one message.
func (c *Channel) send(ctx context.Context, msg message.Message, handle message.Handle) error {
	data, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}

	if err := c.transport.SendMessage(ctx, data, handle); err != nil {
		return &errors.TransportError{Op: "send " + string(msg.MessageType()), Err: err}
	}

	return nil
}

package channel

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/message"
	"github.com/wagiedev/workerpool-go/internal/transport/mem"
)

const waitTimeout = 2 * time.Second

// peer drives the far end of a pipe by hand.
type peer struct {
	t       *testing.T
	end     *mem.End
	packets <-chan message.Packet
}

func newPeer(t *testing.T, end *mem.End) *peer {
	t.Helper()

	packets, _ := end.ReadMessages(context.Background())

	return &peer{t: t, end: end, packets: packets}
}

func (p *peer) next() (message.Message, message.Handle) {
	p.t.Helper()

	select {
	case pkt, ok := <-p.packets:
		require.True(p.t, ok, "pipe closed")

		msg, err := message.Parse(pkt.Data)
		require.NoError(p.t, err)

		return msg, pkt.Handle

	case <-time.After(waitTimeout):
		p.t.Fatal("timed out waiting for message")

		return nil, nil
	}
}

func (p *peer) send(msg message.Message) {
	p.t.Helper()

	data, err := message.Encode(msg)
	require.NoError(p.t, err)
	require.NoError(p.t, p.end.SendMessage(context.Background(), data, nil))
}

func (p *peer) sendRaw(data string) {
	p.t.Helper()

	require.NoError(p.t, p.end.SendMessage(context.Background(), []byte(data), nil))
}

// connectedClient returns a client channel whose handshake has been answered
// by a hand-driven peer advertising methods.
func connectedClient(t *testing.T, methods []string, opts ...Option) (*Channel, *peer) {
	t.Helper()

	a, b := mem.Pipe()
	client := Connect(context.Background(), slog.Default(), a, nil, opts...)
	t.Cleanup(func() { _ = client.Close() })

	p := newPeer(t, b)

	msg, _ := p.next()
	require.IsType(t, &message.Connect{}, msg)
	p.send(message.NewConnected(methods))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	_, err := client.Remote(ctx)
	require.NoError(t, err)

	return client, p
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}

	return out
}

func decrementInterface() Interface {
	return Interface{
		"decrement": func(_ context.Context, req *Request) (any, error) {
			var n int
			if err := req.Bind(&n); err != nil {
				return nil, err
			}

			return n - 1, nil
		},
	}
}

func TestChannel_EndToEndDecrement(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, b := mem.Pipe()

	server := Create(ctx, slog.Default(), b, decrementInterface())
	defer server.Close()

	client := Connect(ctx, slog.Default(), a, nil)
	defer client.Close()

	remote, err := client.Remote(ctx)
	require.NoError(t, err)
	require.NotNil(t, remote)
	require.Equal(t, []string{"decrement"}, remote.Methods())

	res, err := remote.Call(ctx, "decrement", 5)
	require.NoError(t, err)

	var got int
	require.NoError(t, res.Decode(&got))
	require.Equal(t, 4, got)

	// The client advertised no interface, so the server sees none.
	serverRemote, err := server.Remote(ctx)
	require.NoError(t, err)
	require.Nil(t, serverRemote)
	require.Empty(t, serverRemote.Methods())
	require.False(t, serverRemote.Has("decrement"))

	_, err = serverRemote.Call(ctx, "decrement", 1)
	require.ErrorIs(t, err, errors.ErrNoInterface)
}

func TestChannel_EmptyInterfaceIsAdvertised(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, b := mem.Pipe()

	server := Create(ctx, slog.Default(), b, Interface{})
	defer server.Close()

	client := Connect(ctx, slog.Default(), a, nil)
	defer client.Close()

	remote, err := client.Remote(ctx)
	require.NoError(t, err)
	require.NotNil(t, remote)
	require.Empty(t, remote.Methods())

	_, err = remote.Call(ctx, "anything")
	require.ErrorIs(t, err, errors.ErrUnknownMethod)
}

func TestChannel_CallIDsStrictlyIncrease(t *testing.T) {
	client, p := connectedClient(t, []string{"echo"})

	var ids []string

	go func() {
		for range 20 {
			msg, _ := p.next()
			call := msg.(*message.Call)
			ids = append(ids, call.ID)
			p.send(message.NewAck(call.ID))
			p.send(message.NewReturn(call.ID, json.RawMessage(`"ok"`)))
		}
	}()

	for range 20 {
		_, err := client.RemoteCall(context.Background(), "echo")
		require.NoError(t, err)
	}

	require.Len(t, ids, 20)

	prev := int64(-1)
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		require.NoError(t, err)
		require.Greater(t, n, prev)

		prev = n
	}
}

func TestChannel_AckThenReturn(t *testing.T) {
	client, p := connectedClient(t, []string{"get"})

	var rec recorder
	client.Subscribe(rec.record)

	go func() {
		msg, _ := p.next()
		call := msg.(*message.Call)
		assert.Equal(t, "get", call.Method)
		assert.Len(t, call.Arguments, 2)

		p.send(message.NewAck(call.ID))
		p.send(message.NewReturn(call.ID, json.RawMessage(`{"v":[1,2]}`)))
	}()

	res, err := client.RemoteCall(context.Background(), "get", "a", 1)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":[1,2]}`, string(res.Value))
	require.Nil(t, res.Handle)

	require.Equal(t, []EventType{EventMessageCall, EventMessageResult}, rec.types())
}

func TestChannel_ExceptionIsVerbatim(t *testing.T) {
	client, p := connectedClient(t, []string{"fail"})

	payload := json.RawMessage(`{"message":"boom","name":"TypeError","stack":"at x"}`)

	go func() {
		msg, _ := p.next()
		call := msg.(*message.Call)
		p.send(message.NewAck(call.ID))
		p.send(message.NewException(call.ID, payload))
	}()

	_, err := client.RemoteCall(context.Background(), "fail")
	require.Error(t, err)

	remoteErr, ok := stderrors.AsType[*errors.RemoteError](err)
	require.True(t, ok)
	require.Equal(t, "boom", remoteErr.Message)
	require.Equal(t, "TypeError", remoteErr.Name)
	require.JSONEq(t, string(payload), string(remoteErr.Raw))
}

func TestChannel_CallTimeoutDiscardsLateReturn(t *testing.T) {
	client, p := connectedClient(t, []string{"slow"}, WithCallTimeout(50*time.Millisecond))

	var rec recorder
	client.Subscribe(rec.record)

	_, err := client.RemoteCall(context.Background(), "slow")
	require.ErrorIs(t, err, errors.ErrCallTimeout)

	msg, _ := p.next()
	call := msg.(*message.Call)

	// A late return for the evicted id is ignored.
	p.send(message.NewReturn(call.ID, json.RawMessage(`1`)))

	// The channel stays usable: the next call is answered normally.
	go func() {
		msg, _ := p.next()
		next := msg.(*message.Call)
		p.send(message.NewAck(next.ID))
		p.send(message.NewReturn(next.ID, json.RawMessage(`2`)))
	}()

	res, err := client.RemoteCall(context.Background(), "slow")
	require.NoError(t, err)
	require.Equal(t, "2", string(res.Value))

	require.Equal(t, []EventType{
		EventMessageCall, EventMessageTimeout, EventMessageFail,
		EventMessageCall, EventMessageResult,
	}, rec.types())
}

func TestChannel_AckStopsTimeout(t *testing.T) {
	client, p := connectedClient(t, []string{"slow"}, WithCallTimeout(50*time.Millisecond))

	go func() {
		msg, _ := p.next()
		call := msg.(*message.Call)
		p.send(message.NewAck(call.ID))
		time.Sleep(200 * time.Millisecond)
		p.send(message.NewReturn(call.ID, json.RawMessage(`"late but fine"`)))
	}()

	res, err := client.RemoteCall(context.Background(), "slow")
	require.NoError(t, err)
	require.Equal(t, `"late but fine"`, string(res.Value))
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	client, p := connectedClient(t, []string{"wait"})

	var rec recorder
	client.Subscribe(rec.record)

	errCh := make(chan error, 1)

	go func() {
		_, err := client.RemoteCall(context.Background(), "wait")
		errCh <- err
	}()

	msg, _ := p.next()
	call := msg.(*message.Call)
	p.send(message.NewAck(call.ID))

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, errors.ErrClosedBeforeReturn)
	case <-time.After(waitTimeout):
		t.Fatal("pending call not rejected on close")
	}

	msg, _ = p.next()
	require.IsType(t, &message.Closed{}, msg)

	_, err := client.RemoteCall(context.Background(), "wait")
	require.ErrorIs(t, err, errors.ErrChannelClosed)

	closes := 0

	for _, typ := range rec.types() {
		if typ == EventClose {
			closes++
		}
	}

	require.Equal(t, 1, closes)
	require.True(t, client.Closed())

	select {
	case <-client.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestChannel_PeerClosedDoesNotEcho(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, b := mem.Pipe()

	server := Create(ctx, slog.Default(), b, decrementInterface())
	p := newPeer(t, a)

	p.send(message.NewConnect(nil))

	msg, _ := p.next()
	require.IsType(t, &message.Connected{}, msg)

	p.send(message.NewClosed())

	select {
	case <-server.Done():
	case <-time.After(waitTimeout):
		t.Fatal("server did not close on peer closed")
	}

	require.NoError(t, server.Close())

	select {
	case pkt := <-p.packets:
		t.Fatalf("unexpected message after peer close: %s", pkt.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannel_UnknownMethodAndNoInterface(t *testing.T) {
	tests := []struct {
		name    string
		local   Interface
		wantMsg string
	}{
		{name: "missing method", local: decrementInterface(), wantMsg: "Method nope does not exist."},
		{name: "no interface", local: nil, wantMsg: "This remote provides no interface."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			a, b := mem.Pipe()

			server := Create(ctx, slog.Default(), b, tt.local)
			defer server.Close()

			p := newPeer(t, a)
			p.send(message.NewConnect(nil))

			msg, _ := p.next()
			require.IsType(t, &message.Connected{}, msg)

			p.send(&message.Call{Type: message.TypeCall, ID: "0", Method: "nope", Arguments: nil})

			msg, _ = p.next()
			require.Equal(t, message.NewAck("0"), msg)

			msg, _ = p.next()
			exc, ok := msg.(*message.Exception)
			require.True(t, ok)
			require.Equal(t, tt.wantMsg, errors.NewRemoteError(exc.Error).Message)

			// Still usable after the failed call.
			if tt.local != nil {
				p.send(&message.Call{
					Type: message.TypeCall, ID: "1", Method: "decrement",
					Arguments: []json.RawMessage{json.RawMessage("10")},
				})

				msg, _ = p.next()
				require.Equal(t, message.NewAck("1"), msg)

				msg, _ = p.next()
				require.Equal(t, "9", string(msg.(*message.Return).Return))
			}
		})
	}
}

func TestChannel_LocalMethodError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, b := mem.Pipe()

	server := Create(ctx, slog.Default(), b, Interface{
		"explode": func(context.Context, *Request) (any, error) {
			return nil, stderrors.New("kaboom")
		},
		"panic": func(context.Context, *Request) (any, error) {
			panic("bad state")
		},
	})
	defer server.Close()

	client := Connect(ctx, slog.Default(), a, nil)
	defer client.Close()

	remote, err := client.Remote(ctx)
	require.NoError(t, err)

	_, err = remote.Call(ctx, "explode")
	require.EqualError(t, err, "kaboom")

	_, err = remote.Call(ctx, "panic")
	require.ErrorContains(t, err, "bad state")
}

func TestChannel_MalformedMessagesDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, b := mem.Pipe()

	server := Create(ctx, slog.Default(), b, decrementInterface())
	defer server.Close()

	p := newPeer(t, a)
	p.sendRaw(`{not json`)
	p.sendRaw(`{"type":"teleport"}`)
	p.sendRaw(`{"type":"ack"}`)
	p.send(message.NewConnect([]string{"log"}))

	msg, _ := p.next()
	require.IsType(t, &message.Connected{}, msg)

	remote, err := server.Remote(ctx)
	require.NoError(t, err)
	require.True(t, remote.Has("log"))
	require.False(t, server.Closed())
}

func TestChannel_ConnectionTimeout(t *testing.T) {
	a, _ := mem.Pipe()

	var rec recorder

	client := Connect(context.Background(), slog.Default(), a, nil, WithConnectTimeout(50*time.Millisecond))
	defer client.Close()

	client.Subscribe(rec.record)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	_, err := client.Remote(ctx)
	require.ErrorIs(t, err, errors.ErrConnectionTimeout)

	require.Eventually(t, func() bool {
		return len(rec.types()) > 0
	}, waitTimeout, 10*time.Millisecond)
	require.Equal(t, []EventType{EventConnectionTimeout}, rec.types())
}

// failingTransport accepts reads but rejects every send.
type failingTransport struct {
	packets chan message.Packet
}

func (f *failingTransport) ReadMessages(context.Context) (<-chan message.Packet, <-chan error) {
	return f.packets, nil
}

func (f *failingTransport) SendMessage(context.Context, []byte, message.Handle) error {
	return stderrors.New("pipe broken")
}

func TestChannel_TransportFailure(t *testing.T) {
	tr := &failingTransport{packets: make(chan message.Packet)}

	client := Connect(context.Background(), slog.Default(), tr, nil)
	defer client.Close()

	_, err := client.Remote(context.Background())

	transportErr, ok := stderrors.AsType[*errors.TransportError](err)
	require.True(t, ok)
	require.EqualError(t, transportErr.Err, "pipe broken")

	_, err = client.RemoteCall(context.Background(), "anything")
	require.ErrorContains(t, err, "pipe broken")
}

func TestChannel_TransportEndClosesChannel(t *testing.T) {
	client, p := connectedClient(t, []string{"wait"})

	errCh := make(chan error, 1)

	go func() {
		_, err := client.RemoteCall(context.Background(), "wait")
		errCh <- err
	}()

	msg, _ := p.next()
	p.send(message.NewAck(msg.(*message.Call).ID))
	require.NoError(t, p.end.Disconnect())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, errors.ErrClosedBeforeReturn)
	case <-time.After(waitTimeout):
		t.Fatal("pending call not rejected when transport ended")
	}

	require.True(t, client.Closed())
}

func TestChannel_CallerContextCancel(t *testing.T) {
	client, p := connectedClient(t, []string{"wait"})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		_, err := client.RemoteCall(ctx, "wait")
		errCh <- err
	}()

	msg, _ := p.next()
	p.send(message.NewAck(msg.(*message.Call).ID))
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("call not abandoned on context cancel")
	}

	require.False(t, client.Closed())
}

func TestChannel_HandleTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	var received message.Handle

	a, b := mem.Pipe()

	server := Create(ctx, slog.Default(), b, Interface{
		"open": func(context.Context, *Request) (any, error) {
			return c1, nil
		},
		"adopt": func(_ context.Context, req *Request) (any, error) {
			var label string
			if err := req.Bind(nil, &label); err != nil {
				return nil, err
			}

			received = req.Handle

			return label, nil
		},
	})
	defer server.Close()

	client := Connect(ctx, slog.Default(), a, nil)
	defer client.Close()

	remote, err := client.Remote(ctx)
	require.NoError(t, err)

	res, err := remote.Call(ctx, "open")
	require.NoError(t, err)
	require.Equal(t, c1, res.Handle)
	require.Equal(t, "null", string(res.Value))

	res, err = remote.Call(ctx, "adopt", c2, "sock")
	require.NoError(t, err)
	require.Equal(t, `"sock"`, string(res.Value))
	require.Equal(t, c2, received)

	_, err = remote.Call(ctx, "adopt", c1, c2)
	require.ErrorIs(t, err, errors.ErrTooManyHandles)
}

func TestChannel_ConnectWireMethods(t *testing.T) {
	tests := []struct {
		name  string
		local Interface
		want  string
	}{
		{name: "nil interface", local: nil, want: `{"type":"connect"}`},
		{name: "empty interface", local: Interface{}, want: `{"type":"connect","methods":[]}`},
		{name: "sorted names", local: decrementInterface(), want: `{"type":"connect","methods":["decrement"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := mem.Pipe()

			client := Connect(context.Background(), slog.Default(), a, tt.local)
			t.Cleanup(func() { _ = client.Close() })

			packets, _ := b.ReadMessages(context.Background())

			select {
			case pkt := <-packets:
				require.JSONEq(t, tt.want, string(pkt.Data))
			case <-time.After(waitTimeout):
				t.Fatal("timed out waiting for connect")
			}
		})
	}
}

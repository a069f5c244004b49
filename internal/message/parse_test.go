package message

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"testing"

	poolerrors "github.com/wagiedev/workerpool-go/internal/errors"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, msg Message)
	}{
		{
			name: "connect with methods",
			data: `{"type":"connect","methods":["decrement","sum"]}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*Connect)
				require.True(t, ok)
				require.Equal(t, []string{"decrement", "sum"}, m.Methods)
			},
		},
		{
			name: "connect without interface",
			data: `{"type":"connect"}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*Connect)
				require.True(t, ok)
				require.Nil(t, m.Methods)
			},
		},
		{
			name: "connected with empty interface",
			data: `{"type":"connected","methods":[]}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*Connected)
				require.True(t, ok)
				require.NotNil(t, m.Methods)
				require.Empty(t, m.Methods)
			},
		},
		{
			name: "closed",
			data: `{"type":"closed"}`,
			check: func(t *testing.T, msg Message) {
				require.Equal(t, TypeClosed, msg.MessageType())
			},
		},
		{
			name: "call with handle argument",
			data: `{"type":"call","id":"3","method":"serve","arguments":[null,"x"],"handleArgument":0}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*Call)
				require.True(t, ok)
				require.Equal(t, "3", m.ID)
				require.Equal(t, "serve", m.Method)
				require.Len(t, m.Arguments, 2)
				require.NotNil(t, m.HandleArgument)
				require.Equal(t, 0, *m.HandleArgument)
			},
		},
		{
			name: "ack",
			data: `{"type":"ack","id":"9"}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*Ack)
				require.True(t, ok)
				require.Equal(t, "9", m.ID)
			},
		},
		{
			name: "exception keeps payload verbatim",
			data: `{"type":"exception","id":"1","error":{"message":"boom","code":7}}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*Exception)
				require.True(t, ok)
				require.JSONEq(t, `{"message":"boom","code":7}`, string(m.Error))
			},
		},
		{
			name: "return",
			data: `{"type":"return","id":"2","return":4}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*Return)
				require.True(t, ok)
				require.Equal(t, "4", string(m.Return))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.data))
			require.NoError(t, err)
			tt.check(t, msg)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `{"type":`},
		{name: "missing type", data: `{"id":"1"}`},
		{name: "unknown type", data: `{"type":"ping"}`},
		{name: "ack without id", data: `{"type":"ack"}`},
		{name: "call without method", data: `{"type":"call","id":"1","arguments":[]}`},
		{name: "handle argument out of range", data: `{"type":"call","id":"1","method":"m","arguments":[],"handleArgument":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.data))
			require.Nil(t, msg)

			var decodeErr *poolerrors.DecodeError
			require.True(t, errors.As(err, &decodeErr))
			require.Equal(t, tt.data, decodeErr.RawData)
		})
	}
}

func TestEncode_MethodsOmission(t *testing.T) {
	data, err := Encode(NewConnect(nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"connect"}`, string(data))

	data, err = Encode(NewConnected([]string{}))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"connected","methods":[]}`, string(data))
}

func TestNewReturn_NilValueIsNull(t *testing.T) {
	data, err := Encode(NewReturn("5", nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"return","id":"5","return":null}`, string(data))
}

func TestEnvelope(t *testing.T) {
	env, err := ParseEnvelope(EncodeReady())
	require.NoError(t, err)
	require.Equal(t, EnvelopeReady, env.Type)

	inner, err := Encode(NewAck("4"))
	require.NoError(t, err)

	wrapped, err := WrapRPC(inner)
	require.NoError(t, err)

	env, err = ParseEnvelope(wrapped)
	require.NoError(t, err)
	require.Equal(t, EnvelopeRPC, env.Type)
	require.JSONEq(t, string(inner), string(env.Message))

	_, err = ParseEnvelope([]byte(`{"type":"rpc"}`))
	require.Error(t, err)

	_, err = ParseEnvelope([]byte(`{"type":"hello"}`))
	require.Error(t, err)
}

func TestAsHandle(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	h, ok := AsHandle(a)
	require.True(t, ok)
	require.Equal(t, Handle(a), h)

	_, ok = AsHandle(os.Stdin)
	require.True(t, ok)

	_, ok = AsHandle(json.RawMessage("1"))
	require.False(t, ok)

	_, ok = AsHandle(nil)
	require.False(t, ok)
}

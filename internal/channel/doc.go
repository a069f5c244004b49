// Package channel implements a bidirectional RPC multiplexer over one duplex
// transport.
//
// A Channel owns the connect/connected handshake, call bookkeeping with
// per-call acknowledgement timeouts, dispatch of inbound calls to a local
// Interface, and idempotent close. One side is created in acceptor mode with
// Create and the other in initiator mode with Connect:
//
//	server := channel.Create(ctx, log, serverTransport, channel.Interface{
//	    "decrement": func(_ context.Context, req *channel.Request) (any, error) {
//	        var n int
//	        if err := req.Bind(&n); err != nil {
//	            return nil, err
//	        }
//	        return n - 1, nil
//	    },
//	})
//	client := channel.Connect(ctx, log, clientTransport, nil)
//
//	remote, err := client.Remote(ctx)
//	res, err := remote.Call(ctx, "decrement", 5)
//
// Inbound packets are processed strictly in delivery order by one read loop
// goroutine. Local methods run on their own goroutines after the call has
// been acknowledged.
package channel

// Package workerpool runs method calls on a pool of worker processes.
//
// A pool starts child processes on demand, talks to each one over a JSON RPC
// channel on its stdin and stdout, spreads calls across them and retires them
// when idle. Either side can call methods offered by the other.
//
// # Basic Usage
//
// The parent creates a pool with a ForkFunc that starts the worker binary:
//
//	ctx := context.Background()
//	p, err := workerpool.New(
//	    workerpool.Command(&workerpool.CommandConfig{Path: "./worker"}),
//	    workerpool.WithMaxWorkers(4),
//	    workerpool.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Shutdown(ctx)
//
//	n, err := workerpool.Call[int](ctx, p, "decrement", 5)
//
// The worker binary serves its methods until the parent goes away:
//
//	err := workerpool.Serve(ctx, workerpool.Interface{
//	    "decrement": func(ctx context.Context, req *workerpool.Request) (any, error) {
//	        var n int
//	        if err := req.Bind(&n); err != nil {
//	            return nil, err
//	        }
//	        return n - 1, nil
//	    },
//	})
//
// # Scheduling
//
// Each call goes to the least loaded worker. While the pool is below its
// maximum size a new worker is started rather than loading a busy one. With
// WithMaxTasksPerWorker set, calls beyond the pool's capacity wait in a FIFO
// queue; subscribe to EventQueueLength to observe it.
//
// # Errors
//
// Calls fail with ErrCallTimeout if the worker does not acknowledge them in
// time, with a *RemoteError carrying the worker's error payload verbatim, with
// ErrClosedBeforeReturn if the worker dies mid-call, and with
// ErrPoolShutdown once the pool is shut down. Calls are never retried.
//
// # Logging
//
// Pass a *slog.Logger with WithLogger. Without one the pool is silent.
// Each worker's stderr is logged at debug level and can be captured with
// CommandConfig.Stderr.
package workerpool

package workerpool

import (
	"context"
	"fmt"

	"github.com/wagiedev/workerpool-go/internal/pool"
	"github.com/wagiedev/workerpool-go/internal/subprocess"
	"github.com/wagiedev/workerpool-go/internal/worker"
)

// New creates a pool whose workers are started by fork.
//
// Workers are started on demand, up to the configured maximum, and retired
// after sitting idle. Shut the pool down with Shutdown when done.
func New(fork ForkFunc, opts ...Option) (*Pool, error) {
	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	return pool.New(log, fork, options)
}

// Call runs method on a pool worker and decodes its result into T.
func Call[T any](ctx context.Context, p *Pool, method string, args ...any) (T, error) {
	var out T

	res, err := p.Remote().Call(ctx, method, args...)
	if err != nil {
		return out, err
	}

	if err := res.Decode(&out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}

	return out, nil
}

// Command returns a ForkFunc that starts cfg's binary as a worker. The binary
// is expected to call Serve.
func Command(cfg *CommandConfig, opts ...Option) ForkFunc {
	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	return func(ctx context.Context) (worker.Native, error) {
		return subprocess.Start(ctx, log, cfg)
	}
}

// Connect connects a worker process to the pool that started it, offering
// local. It uses the process's stdin and stdout, which must not be used for
// anything else.
func Connect(ctx context.Context, local Interface, opts ...Option) (*Parent, error) {
	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	return worker.ConnectParent(ctx, log, subprocess.Stdio(log), local,
		worker.WithConnectTimeout(options.ConnectTimeout),
		worker.WithCallTimeout(options.CallTimeout),
	)
}

// Serve connects to the parent pool, offering local, and blocks until the
// parent disconnects or ctx is cancelled. Methods still running at that point
// see their context cancelled, and Serve waits for them to return.
//
// Example usage in a worker binary:
//
//	func main() {
//	    err := workerpool.Serve(context.Background(), workerpool.Interface{
//	        "decrement": func(ctx context.Context, req *workerpool.Request) (any, error) {
//	            var n int
//	            if err := req.Bind(&n); err != nil {
//	                return nil, err
//	            }
//	            return n - 1, nil
//	        },
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	}
func Serve(ctx context.Context, local Interface, opts ...Option) error {
	parent, err := Connect(ctx, local, opts...)
	if err != nil {
		return fmt.Errorf("connect to parent: %w", err)
	}

	select {
	case <-parent.Done():
		parent.Wait()

		return nil
	case <-ctx.Done():
		parent.Shutdown()
		parent.Wait()

		return ctx.Err()
	}
}

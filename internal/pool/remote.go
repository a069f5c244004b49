package pool

import (
	"context"

	"github.com/wagiedev/workerpool-go/internal/channel"
)

// Remote is the pool's combined worker interface. Any method name may be
// called; names the selected worker lacks fail with an UnknownMethodError.
type Remote struct {
	pool *Pool
}

// Call queues method with args and waits for its result.
func (r *Remote) Call(ctx context.Context, method string, args ...any) (*channel.Result, error) {
	return r.pool.QueueTask(ctx, method, args...)
}

// Method returns a function bound to name.
func (r *Remote) Method(name string) channel.Func {
	return func(ctx context.Context, args ...any) (*channel.Result, error) {
		return r.pool.QueueTask(ctx, name, args...)
	}
}

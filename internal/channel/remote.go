package channel

import (
	"context"
	"slices"

	"github.com/wagiedev/workerpool-go/internal/errors"
)

// Func calls one remote method.
type Func func(ctx context.Context, args ...any) (*Result, error)

// Remote is the peer's interface as advertised in the handshake. Its method
// table is built once and never changes.
type Remote struct {
	methods []string
	funcs   map[string]Func
}

func newRemote(c *Channel, methods []string) *Remote {
	r := &Remote{
		methods: slices.Clone(methods),
		funcs:   make(map[string]Func, len(methods)),
	}

	for _, name := range methods {
		r.funcs[name] = func(ctx context.Context, args ...any) (*Result, error) {
			return c.RemoteCall(ctx, name, args...)
		}
	}

	return r
}

// Methods returns the advertised method names. A nil Remote, a peer without
// an interface, has none.
func (r *Remote) Methods() []string {
	if r == nil {
		return nil
	}

	return slices.Clone(r.methods)
}

// Has reports whether the peer advertised name.
func (r *Remote) Has(name string) bool {
	if r == nil {
		return false
	}

	_, ok := r.funcs[name]

	return ok
}

// Method returns the callable for name.
func (r *Remote) Method(name string) (Func, bool) {
	if r == nil {
		return nil, false
	}

	fn, ok := r.funcs[name]

	return fn, ok
}

// Call invokes name on the peer. Names the peer did not advertise fail with
// an UnknownMethodError without being sent.
func (r *Remote) Call(ctx context.Context, name string, args ...any) (*Result, error) {
	if r == nil {
		return nil, errors.ErrNoInterface
	}

	fn, ok := r.funcs[name]
	if !ok {
		return nil, &errors.UnknownMethodError{Method: name}
	}

	return fn(ctx, args...)
}

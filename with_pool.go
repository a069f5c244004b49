package workerpool

import (
	"context"
	"fmt"
)

// WithPool manages pool lifecycle with automatic cleanup.
//
// This helper creates a pool with the provided options, executes the callback
// function, and ensures proper cleanup via Shutdown() when done.
//
// If the callback returns an error, it is returned to the caller.
// If Shutdown() fails, a warning is logged but does not override the callback's error.
//
// Example usage:
//
//	err := workerpool.WithPool(ctx, workerpool.Command(&workerpool.CommandConfig{Path: "./worker"}),
//	    func(p *workerpool.Pool) error {
//	        n, err := workerpool.Call[int](ctx, p, "decrement", 5)
//	        if err != nil {
//	            return err
//	        }
//	        fmt.Println(n)
//	        return nil
//	    },
//	    workerpool.WithMaxWorkers(4),
//	)
func WithPool(ctx context.Context, fork ForkFunc, fn func(*Pool) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	p, err := New(fork, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}

	defer func() {
		if shutdownErr := p.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			log.Warn("failed to shut down pool", "error", shutdownErr)
		}
	}()

	return fn(p)
}

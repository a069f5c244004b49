package workerpool

import (
	"log/slog"
	"os"
	"time"
)

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithLocal offers methods to workers. Workers call them through their
// parent's Remote.
func WithLocal(local Interface) Option {
	return func(o *Options) {
		o.Local = local
	}
}

// ===== Sizing =====

// WithMinWorkers sets the number of workers kept alive even when idle.
func WithMinWorkers(n int) Option {
	return func(o *Options) {
		o.MinWorkers = n
	}
}

// WithMaxWorkers caps the number of live workers.
// If not set, it is twice the minimum, or 5 when there is no minimum.
func WithMaxWorkers(n int) Option {
	return func(o *Options) {
		o.MaxWorkers = n
	}
}

// WithMaxTasksPerWorker bounds concurrency to n tasks per worker across the
// pool. Calls beyond that wait in the queue.
func WithMaxTasksPerWorker(n int) Option {
	return func(o *Options) {
		o.MaxTasksPerWorker = n
	}
}

// WithIdleTimeout sets how long a worker may sit without tasks before it is
// retired. Defaults to 60 seconds.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = d
	}
}

// ===== Timeouts =====

// WithReadyTimeout bounds the wait for a new worker to report ready.
// Defaults to 10 seconds, or WORKERPOOL_READY_TIMEOUT seconds when set.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadyTimeout = d
	}
}

// WithConnectTimeout bounds the channel handshake with each worker.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ConnectTimeout = d
	}
}

// WithCallTimeout bounds how long a call may go unacknowledged. A worker
// that misses it is disconnected.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = d
	}
}

// ===== Process Control =====

// WithKillSignal sets the signal sent to retired workers. Defaults to SIGTERM.
func WithKillSignal(sig os.Signal) Option {
	return func(o *Options) {
		o.KillSignal = sig
	}
}

// WithKillTimeout sets how long a retired worker may take to exit before it
// is sent os.Kill.
func WithKillTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.KillTimeout = d
	}
}

// WithSpawnRate limits worker starts to perSecond, allowing burst starts
// back to back. Zero perSecond removes the limit.
func WithSpawnRate(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.SpawnRate = perSecond
		o.SpawnBurst = burst
	}
}

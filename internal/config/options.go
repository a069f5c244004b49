// Package config provides configuration types for the worker pool.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/wagiedev/workerpool-go/internal/channel"
	"github.com/wagiedev/workerpool-go/internal/errors"
)

const (
	// DefaultMaxWorkers caps the pool when neither bound is configured.
	DefaultMaxWorkers = 5

	// DefaultIdleTimeout is how long a worker may sit without tasks before
	// it is retired.
	DefaultIdleTimeout = 60 * time.Second

	// MaxBadWorkers is how many consecutive failed worker starts the pool
	// tolerates before shutting down.
	MaxBadWorkers = 5
)

// Options configures a worker pool.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// MinWorkers is the number of workers kept alive even when idle.
	MinWorkers int

	// MaxWorkers caps the number of live workers. Zero selects twice
	// MinWorkers, or DefaultMaxWorkers when MinWorkers is zero.
	MaxWorkers int

	// MaxTasksPerWorker caps the tasks running on one worker at once.
	// Zero means unbounded.
	MaxTasksPerWorker int

	// IdleTimeout is how long a worker may sit without tasks before it is
	// killed. Zero selects DefaultIdleTimeout.
	IdleTimeout time.Duration

	// ReadyTimeout bounds the wait for a new worker's ready announcement.
	// Zero selects the worker default, which WORKERPOOL_READY_TIMEOUT may
	// override.
	ReadyTimeout time.Duration

	// ConnectTimeout bounds each worker's channel handshake.
	ConnectTimeout time.Duration

	// CallTimeout bounds the acknowledgement of each task by its worker.
	CallTimeout time.Duration

	// KillTimeout is the grace period between KillSignal and os.Kill.
	KillTimeout time.Duration

	// KillSignal is sent to workers on idle eviction and shutdown.
	// Defaults to SIGTERM.
	KillSignal os.Signal

	// SpawnRate limits worker starts per second. Zero means unlimited.
	SpawnRate float64

	// SpawnBurst is how many worker starts may happen back to back before
	// SpawnRate applies. Defaults to 1.
	SpawnBurst int

	// Local is offered to every worker as the parent's interface.
	Local channel.Interface
}

// ApplyDefaults fills unset fields with their defaults.
func (o *Options) ApplyDefaults() {
	if o.MaxWorkers == 0 {
		if o.MinWorkers > 0 {
			o.MaxWorkers = max(1, o.MinWorkers) * 2
		} else {
			o.MaxWorkers = DefaultMaxWorkers
		}
	}

	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}

	if o.KillSignal == nil {
		o.KillSignal = syscall.SIGTERM
	}

	if o.SpawnBurst == 0 {
		o.SpawnBurst = 1
	}
}

// Validate reports the first inconsistent setting. Errors wrap
// ErrInvalidConfig.
func (o *Options) Validate() error {
	switch {
	case o.MinWorkers < 0:
		return fmt.Errorf("%w: min workers must not be negative, got %d", errors.ErrInvalidConfig, o.MinWorkers)
	case o.MaxWorkers < 1:
		return fmt.Errorf("%w: max workers must be at least 1, got %d", errors.ErrInvalidConfig, o.MaxWorkers)
	case o.MaxWorkers < o.MinWorkers:
		return fmt.Errorf("%w: max workers (%d) is less than min workers (%d)",
			errors.ErrInvalidConfig, o.MaxWorkers, o.MinWorkers)
	case o.MaxTasksPerWorker < 0:
		return fmt.Errorf("%w: max tasks per worker must not be negative, got %d",
			errors.ErrInvalidConfig, o.MaxTasksPerWorker)
	case o.IdleTimeout < 0:
		return fmt.Errorf("%w: idle timeout must not be negative", errors.ErrInvalidConfig)
	case o.SpawnRate < 0:
		return fmt.Errorf("%w: spawn rate must not be negative", errors.ErrInvalidConfig)
	case o.SpawnBurst < 0:
		return fmt.Errorf("%w: spawn burst must not be negative", errors.ErrInvalidConfig)
	}

	return nil
}

// TaskCapacity returns how many tasks may run at once across the pool, or
// zero if unbounded.
func (o *Options) TaskCapacity() int {
	if o.MaxTasksPerWorker == 0 {
		return 0
	}

	return o.MaxWorkers * o.MaxTasksPerWorker
}

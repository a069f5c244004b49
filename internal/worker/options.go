package worker

import (
	"os"
	"strconv"
	"time"
)

const (
	// DefaultReadyTimeout bounds the wait for a child's ready envelope.
	DefaultReadyTimeout = 10 * time.Second

	// DefaultConnectTimeout bounds the channel handshake once a child is
	// ready. Process links get longer than a standalone channel.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultKillTimeout is how long Kill waits after the requested signal
	// before escalating to os.Kill.
	DefaultKillTimeout = 5 * time.Second

	// ReadyTimeoutEnv overrides DefaultReadyTimeout, in seconds.
	ReadyTimeoutEnv = "WORKERPOOL_READY_TIMEOUT"
)

// Options configures a Process or Parent.
type Options struct {
	// ReadyTimeout bounds the wait for the child's ready envelope.
	ReadyTimeout time.Duration

	// ConnectTimeout bounds the channel handshake.
	ConnectTimeout time.Duration

	// CallTimeout bounds the acknowledgement of each call. Zero uses the
	// channel default.
	CallTimeout time.Duration

	// KillTimeout is the grace period before Kill escalates to os.Kill.
	KillTimeout time.Duration
}

// Option configures Options using the functional options pattern.
type Option func(*Options)

// WithReadyTimeout sets the ready deadline.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadyTimeout = d
	}
}

// WithConnectTimeout sets the channel handshake deadline.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ConnectTimeout = d
	}
}

// WithCallTimeout sets the channel call acknowledgement deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = d
	}
}

// WithKillTimeout sets the grace period before Kill escalates.
func WithKillTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.KillTimeout = d
	}
}

func applyOptions(opts []Option) Options {
	o := Options{
		ReadyTimeout:   readyTimeoutFromEnv(),
		ConnectTimeout: DefaultConnectTimeout,
		KillTimeout:    DefaultKillTimeout,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = readyTimeoutFromEnv()
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	if o.KillTimeout <= 0 {
		o.KillTimeout = DefaultKillTimeout
	}

	return o
}

// readyTimeoutFromEnv returns the ready timeout from ReadyTimeoutEnv, or
// DefaultReadyTimeout when it is unset or not a positive number.
func readyTimeoutFromEnv() time.Duration {
	raw, ok := os.LookupEnv(ReadyTimeoutEnv)
	if !ok {
		return DefaultReadyTimeout
	}

	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return DefaultReadyTimeout
	}

	return time.Duration(secs * float64(time.Second))
}

package channel

import "time"

const (
	// DefaultConnectTimeout bounds the handshake for standalone channels.
	DefaultConnectTimeout = 2 * time.Second

	// DefaultCallTimeout bounds the wait for a call's acknowledgement.
	DefaultCallTimeout = 2 * time.Second

	// closeSendTimeout bounds the best-effort closed notification.
	closeSendTimeout = time.Second
)

// Options configures a Channel.
type Options struct {
	// ConnectTimeout is how long to wait for the peer's handshake.
	ConnectTimeout time.Duration

	// CallTimeout is how long a call may go unacknowledged.
	CallTimeout time.Duration
}

// Option configures Options using the functional options pattern.
type Option func(*Options)

// WithConnectTimeout sets the handshake deadline.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ConnectTimeout = d
	}
}

// WithCallTimeout sets the acknowledgement deadline for outgoing calls.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = d
	}
}

func applyOptions(opts []Option) Options {
	o := Options{
		ConnectTimeout: DefaultConnectTimeout,
		CallTimeout:    DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}

	return o
}

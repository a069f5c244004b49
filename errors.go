package workerpool

import (
	"encoding/json"

	"github.com/wagiedev/workerpool-go/internal/errors"
)

// Re-export error types from internal package

// RemoteError carries an error raised by a method on the other side.
type RemoteError = errors.RemoteError

// TransportError indicates a message could not be written to the link.
type TransportError = errors.TransportError

// UnknownMethodError indicates a call named a method the peer does not offer.
type UnknownMethodError = errors.UnknownMethodError

// AttachError indicates a spawned worker could not be attached.
type AttachError = errors.AttachError

// ProcessError indicates a worker process exited abnormally.
type ProcessError = errors.ProcessError

// DecodeError indicates an inbound message could not be decoded.
type DecodeError = errors.DecodeError

// PoolError is the base interface for all worker pool errors.
type PoolError = errors.PoolError

// Re-export sentinel errors from internal package.
var (
	// ErrChannelClosed indicates a call was attempted on a closed channel.
	ErrChannelClosed = errors.ErrChannelClosed

	// ErrClosedBeforeReturn rejects calls still pending when a channel closes.
	ErrClosedBeforeReturn = errors.ErrClosedBeforeReturn

	// ErrCallTimeout indicates the peer did not acknowledge a call in time.
	ErrCallTimeout = errors.ErrCallTimeout

	// ErrConnectionTimeout indicates the peer never completed the handshake.
	ErrConnectionTimeout = errors.ErrConnectionTimeout

	// ErrNoInterface indicates the peer exposes no methods.
	ErrNoInterface = errors.ErrNoInterface

	// ErrUnknownMethod matches every UnknownMethodError.
	ErrUnknownMethod = errors.ErrUnknownMethod

	// ErrWorkerConnectTimeout indicates a child never reported ready.
	ErrWorkerConnectTimeout = errors.ErrWorkerConnectTimeout

	// ErrTooManyWorkerFailures indicates the pool gave up starting workers.
	ErrTooManyWorkerFailures = errors.ErrTooManyWorkerFailures

	// ErrPoolShutdown rejects calls made to, or queued in, a stopped pool.
	ErrPoolShutdown = errors.ErrPoolShutdown

	// ErrInvalidConfig indicates the pool options failed validation.
	ErrInvalidConfig = errors.ErrInvalidConfig

	// ErrHandleUnsupported indicates the link cannot carry native handles.
	ErrHandleUnsupported = errors.ErrHandleUnsupported

	// ErrTooManyHandles indicates more than one handle argument was passed to a call.
	ErrTooManyHandles = errors.ErrTooManyHandles
)

// NewRemoteError builds a RemoteError from a raw error payload. A method that
// returns it has the payload delivered to the caller verbatim.
func NewRemoteError(raw json.RawMessage) *RemoteError {
	return errors.NewRemoteError(raw)
}

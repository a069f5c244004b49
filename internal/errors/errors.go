package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PoolError is the base interface for all worker pool errors.
type PoolError interface {
	error
	IsPoolError() bool
}

// Compile-time verification that all error types implement PoolError.
var (
	_ PoolError = (*RemoteError)(nil)
	_ PoolError = (*TransportError)(nil)
	_ PoolError = (*UnknownMethodError)(nil)
	_ PoolError = (*AttachError)(nil)
	_ PoolError = (*ProcessError)(nil)
	_ PoolError = (*DecodeError)(nil)
)

// Sentinel errors for commonly checked conditions.
//
// Several messages are observable by peers and callers and keep their
// historical sentence form.
//
//nolint:staticcheck // ST1005: messages are part of the observable protocol
var (
	// ErrChannelClosed indicates a call was attempted on a closed channel.
	ErrChannelClosed = errors.New("Channel to remote process is closed.")

	// ErrClosedBeforeReturn rejects calls still pending when a channel closes.
	ErrClosedBeforeReturn = errors.New("Channel to remote process closed before call returned.")

	// ErrCallTimeout indicates the peer did not acknowledge a call in time.
	ErrCallTimeout = errors.New("Call to remote process timed out.")

	// ErrConnectionTimeout indicates the peer never completed the handshake.
	ErrConnectionTimeout = errors.New("Timed out waiting for remote process to connect.")

	// ErrNoInterface is reported to a peer calling into a side that exposes nothing.
	ErrNoInterface = errors.New("This remote provides no interface.")

	// ErrUnknownMethod matches every UnknownMethodError.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrWorkerConnectTimeout indicates a child never reported ready.
	ErrWorkerConnectTimeout = errors.New("Worker process connection timed out.")

	// ErrTooManyWorkerFailures is returned once the pool gives up spawning workers.
	ErrTooManyWorkerFailures = errors.New("Saw too many worker failures, shutting down pool.")

	// ErrPoolShutdown rejects tasks submitted to, or queued in, a stopped pool.
	ErrPoolShutdown = errors.New("Worker pool has shutdown.")

	// ErrInvalidConfig indicates the pool options failed validation.
	ErrInvalidConfig = errors.New("invalid worker pool configuration")

	// ErrHandleUnsupported indicates the transport cannot carry native handles.
	ErrHandleUnsupported = errors.New("transport does not support handle transfer")

	// ErrTooManyHandles indicates more than one handle argument was passed to a call.
	ErrTooManyHandles = errors.New("at most one handle argument per call")

	// ErrDisconnected indicates the native channel was already disconnected.
	ErrDisconnected = errors.New("native channel disconnected")
)

// ErrorPayload is the wire form of an error carried in an exception message.
type ErrorPayload struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
}

// RemoteError is a failure raised by the peer's method. Raw holds the
// exception payload exactly as received.
type RemoteError struct {
	Message string
	Name    string
	Raw     json.RawMessage
}

// NewRemoteError builds a RemoteError from an exception payload. Payloads that
// are plain JSON strings are accepted as the message.
func NewRemoteError(raw json.RawMessage) *RemoteError {
	e := &RemoteError{Raw: raw}

	var payload ErrorPayload
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		e.Message = payload.Message
		e.Name = payload.Name

		return e
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		e.Message = text

		return e
	}

	e.Message = string(raw)

	return e
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsPoolError implements PoolError.
func (e *RemoteError) IsPoolError() bool { return true }

// TransportError indicates the underlying transport failed to send.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsPoolError implements PoolError.
func (e *TransportError) IsPoolError() bool { return true }

// UnknownMethodError indicates a task named a method the worker does not expose.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("Method '%s' does not exist on remote.", e.Method)
}

// Is reports whether target is ErrUnknownMethod.
func (e *UnknownMethodError) Is(target error) bool {
	return target == ErrUnknownMethod
}

// IsPoolError implements PoolError.
func (e *UnknownMethodError) IsPoolError() bool { return true }

// AttachError indicates a freshly forked worker could not be attached.
type AttachError struct {
	Pid int
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach worker (pid %d): %v", e.Pid, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// IsPoolError implements PoolError.
func (e *AttachError) IsPoolError() bool { return true }

// ProcessError indicates a worker process exited abnormally.
type ProcessError struct {
	Pid      int
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker process %d failed (exit %d): %v", e.Pid, e.ExitCode, e.Err)
	}

	return fmt.Sprintf("worker process %d failed (exit %d): %s", e.Pid, e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsPoolError implements PoolError.
func (e *ProcessError) IsPoolError() bool { return true }

// DecodeError indicates an inbound packet could not be decoded.
// RawData preserves the bytes that failed to parse.
type DecodeError struct {
	RawData string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsPoolError implements PoolError.
func (e *DecodeError) IsPoolError() bool { return true }

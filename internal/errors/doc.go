// Package errors defines error types for the worker pool and its RPC channel.
//
// This package provides sentinel errors for the protocol's fixed failure
// conditions and structured error types for failures that carry context.
// All error types support unwrapping and can be checked using errors.Is,
// errors.As, and errors.AsType.
package errors

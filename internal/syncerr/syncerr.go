// Package syncerr defines the four error kinds the sync loop and the RPC
// layer dispatch on (transient I/O, decode, invariant, not-found) as typed
// wrappers, so callers never string-match error text.
package syncerr

import (
	"errors"
	"fmt"
)

// TransientError wraps a base-chain RPC timeout or DB connection blip: the
// current block advance is skipped and retried on the next poll.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// DecodeError wraps malformed cell data or a bad KV value: fatal for the
// current block, which is skipped.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return fmt.Sprintf("decode: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// Decode wraps err as a DecodeError.
func Decode(err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Err: err}
}

// InvariantError wraps an SMT underflow or a new entrant with a decrease:
// fatal, propagated up to terminate the sync task.
type InvariantError struct{ Err error }

func (e *InvariantError) Error() string { return fmt.Sprintf("invariant: %v", e.Err) }
func (e *InvariantError) Unwrap() error { return e.Err }

// Invariant wraps err as an InvariantError.
func Invariant(err error) error {
	if err == nil {
		return nil
	}
	return &InvariantError{Err: err}
}

// NotFoundError wraps a required input cell missing during aggregation:
// fatal to the aggregation attempt, returned to the caller.
type NotFoundError struct{ Err error }

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %v", e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

// NotFound wraps err as a NotFoundError.
func NotFound(err error) error {
	if err == nil {
		return nil
	}
	return &NotFoundError{Err: err}
}

// IsTransient reports whether err (or something it wraps) is transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsInvariant reports whether err (or something it wraps) is an invariant
// violation.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// JSONRPCError is the single {code, message} shape every error surfaced
// from the core converts to at the RPC boundary.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToJSONRPC converts any error into the single {code, message} shape.
func ToJSONRPC(err error) *JSONRPCError {
	switch err.(type) {
	case *NotFoundError:
		return &JSONRPCError{Code: -32001, Message: err.Error()}
	case *DecodeError:
		return &JSONRPCError{Code: -32002, Message: err.Error()}
	case *InvariantError:
		return &JSONRPCError{Code: -32003, Message: err.Error()}
	case *TransientError:
		return &JSONRPCError{Code: -32004, Message: err.Error()}
	default:
		return &JSONRPCError{Code: -32000, Message: err.Error()}
	}
}

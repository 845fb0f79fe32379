// Package memgerr defines the error-kind taxonomy used across the memory
// store and maps it onto grpc/codes so every layer — service, CLI, gRPC
// transport — reports errors the same way.
package memgerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an error independent of its transport representation.
type Kind string

const (
	ConfigError          Kind = "ConfigError"
	SchemaError          Kind = "SchemaError"
	ValidationError      Kind = "ValidationError"
	ResourceExhaustedErr Kind = "ResourceExhausted"
	DatabaseError        Kind = "DatabaseError"
	PartialWriteErr      Kind = "PartialWriteError"
	NotFoundErr          Kind = "NotFound"
	InvalidInputErr      Kind = "InvalidInput"
)

var kindCodes = map[Kind]codes.Code{
	ConfigError:          codes.FailedPrecondition,
	SchemaError:          codes.FailedPrecondition,
	ValidationError:      codes.InvalidArgument,
	ResourceExhaustedErr: codes.ResourceExhausted,
	DatabaseError:        codes.Internal,
	PartialWriteErr:      codes.Internal,
	NotFoundErr:          codes.NotFound,
	InvalidInputErr:      codes.InvalidArgument,
}

// memgError is the concrete error type carrying kind, operation and context.
type memgError struct {
	kind      Kind
	operation string
	context   map[string]string
	message   string
	cause     error
}

func (e *memgError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (op=%s): %v", e.kind, e.message, e.operation, e.cause)
	}
	return fmt.Sprintf("%s: %s (op=%s)", e.kind, e.message, e.operation)
}

func (e *memgError) Unwrap() error { return e.cause }

// GRPCStatus lets google.golang.org/grpc/status.FromError recover the code.
func (e *memgError) GRPCStatus() *status.Status {
	code, ok := kindCodes[e.kind]
	if !ok {
		code = codes.Unknown
	}
	return status.New(code, e.Error())
}

// New constructs an error of the given kind carrying operation and context.
func New(kind Kind, operation, message string, context map[string]string, cause error) error {
	return &memgError{kind: kind, operation: operation, context: context, message: message, cause: cause}
}

// Kindf builds a kind error with a formatted message and no wrapped cause.
func Kindf(kind Kind, operation, format string, args ...any) error {
	return &memgError{kind: kind, operation: operation, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an existing error.
func Wrap(kind Kind, operation string, cause error) error {
	if cause == nil {
		return nil
	}
	return &memgError{kind: kind, operation: operation, message: cause.Error(), cause: cause}
}

// Of reports the Kind of err, or "" if err was not produced by this package.
func Of(err error) Kind {
	var me *memgError
	if errors.As(err, &me) {
		return me.kind
	}
	return ""
}

// Context returns the contextual key/value pairs attached to err, if any.
func Context(err error) map[string]string {
	var me *memgError
	if errors.As(err, &me) {
		return me.context
	}
	return nil
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

package command

import (
	"errors"
	"fmt"
)

// baseError mirrors eventstore.StoreError's Op+Err shape so callers can
// use the same errors.Is/As idiom across both packages.
type baseError struct {
	Op  string
	Err error
}

func (e *baseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *baseError) Unwrap() error { return e.Err }

// ValidationError wraps a failure from Definition.Validate (spec.md §7
// ValidationError).
type ValidationError struct{ baseError }

// RejectedError wraps a business-rule rejection from Definition's
// handler (spec.md §7 CommandRejected).
type RejectedError struct{ baseError }

// HandlerError wraps a Handle error explicitly marked with Unexpected:
// an unanticipated failure in the handler's own code, as distinct from
// a deliberate business-rule rejection (spec.md §7 HandlerError,
// "user projection/command code... caller policy decides").
type HandlerError struct{ baseError }

// SerializationError wraps a payload encode/decode failure (spec.md §7
// SerializationError).
type SerializationError struct{ baseError }

// BeforeCommitSuspendedError is returned by BlockingExecutor when its
// BeforeCommitFunc did not complete synchronously (spec.md §5/§9: "the
// blocking executor... polls the future once... otherwise the executor
// aborts the operation... the latter [an error] is preferred in new
// implementations").
type BeforeCommitSuspendedError struct{ baseError }

var errBeforeCommitNotReady = errors.New("before_commit hook did not complete within the single bounded poll window")

// unexpectedMarker distinguishes a Handle error wrapped with Unexpected
// from the default case of a plain business-rule rejection.
type unexpectedMarker struct{ err error }

func (m *unexpectedMarker) Error() string { return m.err.Error() }
func (m *unexpectedMarker) Unwrap() error { return m.err }

// Unexpected marks err, when returned from HandlerState.Handle, as an
// unanticipated failure in the handler's own code rather than a
// deliberate business-rule rejection. The executor reports a marked
// error as HandlerError instead of RejectedError (spec.md §7:
// CommandRejected vs HandlerError). Handlers that reject on business
// grounds, the common case, should keep returning a plain error.
func Unexpected(err error) error {
	if err == nil {
		return nil
	}
	return &unexpectedMarker{err: err}
}

func newValidationError(op string, err error) error {
	return &ValidationError{baseError{Op: op, Err: err}}
}

func newRejectedError(op string, err error) error {
	return &RejectedError{baseError{Op: op, Err: err}}
}

func newHandlerError(op string, err error) error {
	return &HandlerError{baseError{Op: op, Err: err}}
}

func newSerializationError(op string, err error) error {
	return &SerializationError{baseError{Op: op, Err: err}}
}

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsRejectedError(err error) bool {
	var e *RejectedError
	return errors.As(err, &e)
}

func IsSerializationError(err error) bool {
	var e *SerializationError
	return errors.As(err, &e)
}

func IsBeforeCommitSuspendedError(err error) bool {
	var e *BeforeCommitSuspendedError
	return errors.As(err, &e)
}

func IsHandlerError(err error) bool {
	var e *HandlerError
	return errors.As(err, &e)
}

package projection

import (
	"errors"
	"fmt"
)

// baseError mirrors eventstore.StoreError's Op+Err shape.
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

// SerializationError wraps a payload decode failure encountered while
// streaming events (spec.md §7 SerializationError).
type SerializationError struct{ baseError }

// HandlerError wraps an error returned by EventHandler.Handle or Flush
// (spec.md §7 HandlerError).
type HandlerError struct{ baseError }

// CheckpointConflictError reports a compare-and-swap mismatch: another
// runner advanced this projection_id's checkpoint first (spec.md §7
// CheckpointConflict — "terminate this projection runner"). Checkpoint
// implementations outside this package construct it directly (its
// fields are all exported) rather than through a constructor.
type CheckpointConflictError struct {
	ProjectionID string
	Expected     uint64
}

func (e *CheckpointConflictError) Error() string {
	return fmt.Sprintf("projection: checkpoint conflict for %q: expected position %d was no longer current", e.ProjectionID, e.Expected)
}

func newSerializationError(op string, err error) error {
	return &SerializationError{baseError{Op: op, Err: err}}
}

func newHandlerError(op string, err error) error {
	return &HandlerError{baseError{Op: op, Err: err}}
}

func IsSerializationError(err error) bool {
	var e *SerializationError
	return errors.As(err, &e)
}

func IsHandlerError(err error) bool {
	var e *HandlerError
	return errors.As(err, &e)
}

func IsCheckpointConflictError(err error) bool {
	var e *CheckpointConflictError
	return errors.As(err, &e)
}

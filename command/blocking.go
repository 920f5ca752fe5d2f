package command

import (
	"context"
	"time"

	"github.com/go-dcb/runtime/emitter"
	"github.com/go-dcb/runtime/envelope"
	"github.com/go-dcb/runtime/eventstore"
)

// pollWindow bounds how long pollOnce waits for a before_commit hook
// before declaring it suspended. Go has no future type to poll without
// yielding at all, so a single poll is approximated by a short bounded
// wait: generous enough for a hook that completes synchronously (the
// wait only has to cover goroutine-scheduling overhead), far short of
// anything that should be treated as genuinely blocking.
const pollWindow = 10 * time.Millisecond

// BlockingExecutor runs the same protocol as Executor, but treats
// Definition.BeforeCommit as a fire-and-poll-once hook rather than one
// the caller is willing to wait on indefinitely (spec.md §5: "a blocking
// executor ... starts the before_commit hook and polls it exactly once;
// if it has not already completed, the operation fails rather than
// suspend the caller").
//
// BeforeCommit is started on its own goroutine the instant Handle
// returns and given a single bounded wait (pollWindow) to finish. There
// is no second chance: a hook that has not finished within that window
// fails the whole command with BeforeCommitSuspendedError.
type BlockingExecutor[I any] struct {
	exec *Executor[I]
}

// NewBlockingExecutor builds a BlockingExecutor for def against store.
// def.BeforeCommit, if set, is rewrapped to run on its own goroutine and
// be polled exactly once.
func NewBlockingExecutor[I any](store eventstore.EventStore, def Definition[I]) *BlockingExecutor[I] {
	if hook := def.BeforeCommit; hook != nil {
		def.BeforeCommit = pollOnce(hook)
	}
	return &BlockingExecutor[I]{exec: NewExecutor(store, def)}
}

// pollOnce starts hook on its own goroutine and gives it a single
// bounded wait (pollWindow) to complete, per spec.md §5's
// blocking-flavor contract. A hook that returns immediately (the common
// case) completes well inside the window and its result is returned
// as-is; a hook that genuinely blocks misses the window and is reported
// as suspended rather than awaited further.
func pollOnce[I any](hook BeforeCommitFunc[I]) BeforeCommitFunc[I] {
	return func(ctx context.Context, input I, emit *emitter.Buffer) error {
		done := make(chan error, 1)
		go func() { done <- hook(ctx, input, emit) }()

		timer := time.NewTimer(pollWindow)
		defer timer.Stop()

		select {
		case err := <-done:
			return err
		case <-timer.C:
			return &BeforeCommitSuspendedError{baseError{
				Op:  "BlockingExecutor.Execute.BeforeCommit",
				Err: errBeforeCommitNotReady,
			}}
		}
	}
}

// Execute runs validate -> read -> fold -> decide -> poll-once
// before_commit -> append.
func (bx *BlockingExecutor[I]) Execute(ctx context.Context, input I, cmdCtx envelope.CommandContext) (ExecuteResult, error) {
	return bx.exec.Execute(ctx, input, cmdCtx)
}

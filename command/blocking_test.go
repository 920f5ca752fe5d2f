package command_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dcb/runtime/command"
	"github.com/go-dcb/runtime/emitter"
	"github.com/go-dcb/runtime/envelope"
	"github.com/go-dcb/runtime/eventstore/memstore"
)

func TestBlockingExecutor_SucceedsWhenHookCompletesImmediately(t *testing.T) {
	store := memstore.New()
	seedAccount(t, store, "acct-1", 100)
	seedAccount(t, store, "acct-2", 0)

	bx := command.NewBlockingExecutor(store, command.Definition[transferInput]{
		EventSet: transferEventSet(),
		NewState: newTransferState,
		Bindings: transferBindings,
		BeforeCommit: func(ctx context.Context, in transferInput, emit *emitter.Buffer) error {
			return nil // completes synchronously, well within the single poll
		},
	})

	result, err := bx.Execute(context.Background(), transferInput{From: "acct-1", To: "acct-2", Amount: 10}, envelope.NewUserInitiated())
	require.NoError(t, err)
	assert.Len(t, result.Events, 2)
}

func TestBlockingExecutor_FailsWhenHookHasNotFinished(t *testing.T) {
	store := memstore.New()
	seedAccount(t, store, "acct-1", 100)
	seedAccount(t, store, "acct-2", 0)

	bx := command.NewBlockingExecutor(store, command.Definition[transferInput]{
		EventSet: transferEventSet(),
		NewState: newTransferState,
		Bindings: transferBindings,
		BeforeCommit: func(ctx context.Context, in transferInput, emit *emitter.Buffer) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})

	_, err := bx.Execute(context.Background(), transferInput{From: "acct-1", To: "acct-2", Amount: 10}, envelope.NewUserInitiated())
	require.Error(t, err)
	assert.True(t, command.IsBeforeCommitSuspendedError(err))

	head, herr := store.Head(context.Background())
	require.NoError(t, herr)
	assert.EqualValues(t, 2, head, "no events should have been appended when before_commit did not complete")
}

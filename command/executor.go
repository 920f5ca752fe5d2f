// Package command implements spec.md §4.3: the read-fold-decide-append
// protocol for a single command invocation, in both the
// cooperative-suspending flavour (Executor) and the blocking flavour
// (BlockingExecutor, see blocking.go).
//
// The transaction discipline (validate first, append before any
// side-storage, propagate append-condition failures unchanged) follows
// the teacher's pkg/dcb/command.go ExecuteCommand; the read-project-decide
// shape of a handler follows internal/examples/transfer/pkg/transfer.go,
// generalized to go through the EventStore interface only (no reaching
// into store internals the way the teacher's command.go type-asserts to
// *eventStore — our EventStore is a true external collaborator).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/go-dcb/runtime/emitter"
	"github.com/go-dcb/runtime/envelope"
	"github.com/go-dcb/runtime/eventschema"
	"github.com/go-dcb/runtime/eventstore"
	"github.com/go-dcb/runtime/queryplanner"
)

// HandlerState is the mutable, per-execution state a command handler
// folds history into and decides from. A fresh instance is created for
// every Execute call (spec.md §3 lifecycle: "Handler state is created
// fresh per command execution and destroyed after handle returns").
type HandlerState[I any] interface {
	// Apply folds one historical event into the handler state.
	Apply(event eventschema.Event, meta envelope.EventMeta)
	// Handle is the pure decision function over handler state + input.
	// It must not block on the event store.
	Handle(input I) (*emitter.Buffer, error)
}

// BeforeCommitFunc is the optional hook run after Handle and before
// Append.
type BeforeCommitFunc[I any] func(ctx context.Context, input I, emit *emitter.Buffer) error

// Definition wires a concrete command's behavior into an Executor.
type Definition[I any] struct {
	// EventSet is the command's read set — the events its default Query
	// implementation plans over and the events Apply ever sees.
	EventSet *eventschema.EventSet

	// NewState constructs a fresh HandlerState for one execution.
	NewState func() HandlerState[I]

	// Bindings extracts the input's DomainIdBindings, used by the
	// default Query implementation. Required unless Query is set.
	Bindings func(input I) eventschema.DomainIdBindings

	// Validate is the pure pre-query check (spec.md §4.3 validate). May
	// be nil (no-op).
	Validate func(input I) error

	// Query overrides the default planner-derived query entirely. May
	// be nil to use Bindings + queryplanner.Plan.
	Query func(input I) (eventstore.DCBQuery, error)

	// BeforeCommit is the optional async hook invoked after Handle and
	// before Append. May be nil (no-op).
	BeforeCommit BeforeCommitFunc[I]

	// Strict turns "event type outside this EventSet but present in a
	// broader read" from a logged skip into a SerializationError
	// (spec.md §9 open question: "Implementers should consider a strict
	// mode that errors instead.").
	Strict bool

	// PlannerOptions configures the default query's Cartesian-product
	// ceiling (queryplanner.Options).
	PlannerOptions queryplanner.Options

	// Logger receives warn-level schema-drift-tolerance log lines. A nil
	// Logger is treated as zap.NewNop().
	Logger *zap.Logger
}

func (d Definition[I]) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// ExecuteResult is what a successful Execute returns.
type ExecuteResult struct {
	// Position is the store's head after this execution: the new head
	// if events were appended, or the head observed at read time if
	// Handle produced no events.
	Position uint64
	// Events is empty when Handle produced no events (spec.md §4.3 step
	// 9 / S4).
	Events []emitter.Emitted
}

// Executor runs Definition's protocol against an EventStore (the
// cooperative-suspending flavour: every step below takes ctx and may be
// cancelled).
type Executor[I any] struct {
	store eventstore.EventStore
	def   Definition[I]
}

// NewExecutor builds an Executor for def against store.
func NewExecutor[I any](store eventstore.EventStore, def Definition[I]) *Executor[I] {
	if def.NewState == nil {
		panic("command: Definition.NewState must not be nil")
	}
	if def.EventSet == nil {
		panic("command: Definition.EventSet must not be nil")
	}
	if def.Query == nil && def.Bindings == nil {
		panic("command: Definition must set either Query or Bindings")
	}
	return &Executor[I]{store: store, def: def}
}

// Query computes the DCB query for input, using the override if set or
// else planning from Bindings.
func (ex *Executor[I]) Query(input I) (eventstore.DCBQuery, error) {
	if ex.def.Query != nil {
		return ex.def.Query(input)
	}
	return queryplanner.Plan(ex.def.Bindings(input), ex.def.EventSet, ex.def.PlannerOptions)
}

// Execute runs validate -> read -> fold -> decide -> before_commit ->
// append for one command invocation.
func (ex *Executor[I]) Execute(ctx context.Context, input I, cmdCtx envelope.CommandContext) (ExecuteResult, error) {
	// 1. validate
	if ex.def.Validate != nil {
		if err := ex.def.Validate(input); err != nil {
			return ExecuteResult{}, newValidationError("Execute.Validate", err)
		}
	}

	// 2. construct handler state
	state := ex.def.NewState()

	// 3. plan query (identical query is reused at append-condition time,
	// per spec.md §4.3 invariant).
	q, err := ex.Query(input)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("command: plan query: %w", err)
	}

	// 4. read from 0 up to head observed at call time
	head, err := ex.store.Head(ctx)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("command: read head: %w", err)
	}

	stream, err := ex.store.Read(ctx, q, eventstore.ReadOptions{From: 0, Limit: 0})
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("command: read: %w", err)
	}
	defer stream.Close()

	var lastPosition uint64
	for {
		se, ok, err := stream.Next(ctx)
		if err != nil {
			return ExecuteResult{}, fmt.Errorf("command: stream: %w", err)
		}
		if !ok {
			break
		}
		if se.Position > head {
			// appended after the head observed above; stop the read there.
			break
		}
		if se.Position <= lastPosition {
			// at-most-once apply per position, even across a
			// duplicate-streaming store.
			continue
		}
		lastPosition = se.Position

		sed, err := envelope.Decode(se.Event.Data)
		if err != nil {
			return ExecuteResult{}, newSerializationError("Execute.decodeEnvelope", err)
		}

		decoded := ex.def.EventSet.FromEvent(se.Event.Type, sed.Data)
		if !decoded.Matched {
			if ex.def.Strict {
				return ExecuteResult{}, newSerializationError(
					"Execute.Apply",
					fmt.Errorf("event type %q at position %d is not a member of this command's EventSet", se.Event.Type, se.Position),
				)
			}
			ex.def.logger().Warn("command: skipping event outside EventSet (schema drift tolerance)",
				zap.String("event_type", se.Event.Type),
				zap.Uint64("position", se.Position),
			)
			continue
		}
		if decoded.Err != nil {
			return ExecuteResult{}, newSerializationError("Execute.Apply", decoded.Err)
		}

		state.Apply(decoded.Event, envelope.EventMeta{Timestamp: sed.Timestamp})
	}

	// 6. capture emission timestamp
	now := time.Now().UTC()

	// 7. decide
	emit, err := state.Handle(input)
	if err != nil {
		var marked *unexpectedMarker
		if errors.As(err, &marked) {
			return ExecuteResult{}, newHandlerError("Execute.Handle", marked.err)
		}
		return ExecuteResult{}, newRejectedError("Execute.Handle", err)
	}
	if emit == nil {
		emit = emitter.New()
	}

	// 8. before_commit
	if ex.def.BeforeCommit != nil {
		if err := ex.def.BeforeCommit(ctx, input, emit); err != nil {
			return ExecuteResult{}, fmt.Errorf("command: before_commit: %w", err)
		}
	}

	// 9. empty emit: no append
	if emit.IsEmpty() {
		return ExecuteResult{Position: head, Events: nil}, nil
	}

	// 10. encode + append under the same query as an append condition
	env := cmdCtx.Envelope(now)
	events := emit.IntoEvents()
	dcbEvents := make([]eventstore.DCBEvent, len(events))
	for i, e := range events {
		wire, err := envelope.Encode(env, e.Data)
		if err != nil {
			return ExecuteResult{}, newSerializationError("Execute.encode", err)
		}
		de := e.ToDCBEvent()
		de.Data = wire
		dcbEvents[i] = de
	}

	newHead, err := ex.store.Append(ctx, dcbEvents, &eventstore.AppendCondition{
		FailIfEventsMatch: q,
		After:             head,
	})
	if err != nil {
		// 11. propagate append-condition rejections (and any other
		// store error) unchanged; callers decide whether to retry.
		return ExecuteResult{}, err
	}

	return ExecuteResult{Position: newHead, Events: events}, nil
}

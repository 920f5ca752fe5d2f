// Package projection implements spec.md §4.5: a ProjectionRunner that
// streams events from a checkpoint, folds them into an
// application-defined handler inside a caller-owned RelDB transaction,
// and flushes progress under a dual replay/live interval policy with
// compare-and-swap checkpoint semantics.
//
// The teacher projects in-request (pkg/dcb/streaming_projection.go's
// StreamingProjectionIterator runs to completion within one call); this
// package generalizes that iterator/flush shape into a durable,
// resumable, long-running runner, since the teacher has no checkpoint
// table of its own to draw on.
package projection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/go-dcb/runtime/envelope"
	"github.com/go-dcb/runtime/eventschema"
	"github.com/go-dcb/runtime/eventstore"
)

// StoredEvent is what a handler sees for one event: its identity,
// position, envelope metadata, raw tags, and decoded payload.
type StoredEvent struct {
	ID       uuid.UUID
	Position uint64
	Envelope envelope.EventEnvelope
	Tags     []eventstore.Tag
	Event    eventschema.Event
}

// EventHandler is the application-defined projection logic, parameterized
// over the caller's RelDB transaction type TX (e.g. pgx.Tx).
type EventHandler[TX any] interface {
	// Handle applies one StoredEvent inside the currently open flush
	// transaction.
	Handle(ctx context.Context, tx TX, event StoredEvent) error
	// Flush runs once per flush window, after all events in the window
	// have been Handle'd and the checkpoint has been compare-and-swapped,
	// but before commit. isReplaying is true while position <= head
	// observed at runner start.
	Flush(ctx context.Context, tx TX, isReplaying bool) error
	// PostCommit runs strictly after the flush transaction has
	// committed durably. Errors are reported but never roll back the
	// already-durable commit; PostCommit must be idempotent across
	// re-invocation on a replayed position.
	PostCommit(ctx context.Context, isReplaying bool) error
}

// Transactor begins, commits, and rolls back a TX. The Postgres adapter
// implements Transactor[pgx.Tx] over a pgxpool.Pool.
type Transactor[TX any] interface {
	Begin(ctx context.Context) (TX, error)
	Commit(ctx context.Context, tx TX) error
	Rollback(ctx context.Context, tx TX) error
}

// Checkpoint is the durable record of how far a projection has consumed
// the event log, with compare-and-swap semantics (spec.md §4.5/§6).
type Checkpoint[TX any] interface {
	// Load returns the last durably-saved position for projectionID, and
	// whether a row exists at all (false on first run).
	Load(ctx context.Context, projectionID string) (position uint64, exists bool, err error)

	// Save compare-and-swaps the checkpoint inside tx: if expectedExists
	// is false this must INSERT (propagating a duplicate-key error as-is
	// if one already exists), otherwise it must UPDATE ... WHERE
	// projection_id = ? AND position = expected, returning
	// CheckpointConflictError when zero rows are affected.
	Save(ctx context.Context, tx TX, projectionID string, expected uint64, expectedExists bool, newPosition uint64) error
}

// FlushPolicy configures the dual replay/live flush thresholds (spec.md
// §6 "Projection builder options").
type FlushPolicy struct {
	LiveEventsInterval   int
	LiveTimeInterval     time.Duration
	ReplayEventsInterval int
	ReplayTimeInterval   time.Duration
}

// DefaultFlushPolicy returns spec.md §6's defaults: live = (1 event,
// 1s); replay = (500 events, 10s).
func DefaultFlushPolicy() FlushPolicy {
	return FlushPolicy{
		LiveEventsInterval:   1,
		LiveTimeInterval:     time.Second,
		ReplayEventsInterval: 500,
		ReplayTimeInterval:   10 * time.Second,
	}
}

func (p FlushPolicy) normalized() FlushPolicy {
	d := DefaultFlushPolicy()
	if p.LiveEventsInterval <= 0 {
		p.LiveEventsInterval = d.LiveEventsInterval
	}
	if p.LiveTimeInterval <= 0 {
		p.LiveTimeInterval = d.LiveTimeInterval
	}
	if p.ReplayEventsInterval <= 0 {
		p.ReplayEventsInterval = d.ReplayEventsInterval
	}
	if p.ReplayTimeInterval <= 0 {
		p.ReplayTimeInterval = d.ReplayTimeInterval
	}
	return p
}

// PostCommitPolicy decides what happens when EventHandler.PostCommit
// returns an error (spec.md §9 open question: the spec leaves the
// choice to the implementer, "fail the runner" vs "log and continue").
type PostCommitPolicy int

const (
	// LogAndContinue logs the PostCommit error and keeps running — the
	// only policy implemented today (see DESIGN.md Open Question
	// decisions). The commit itself is never rolled back either way.
	LogAndContinue PostCommitPolicy = iota
)

// Options configures a Runner.
type Options[TX any] struct {
	ProjectionID string // required; the checkpoint row key

	// Query overrides the default query (one item matching every type
	// in the handler's EventSet). Optional.
	Query *eventstore.DCBQuery

	Flush FlushPolicy

	// Strict turns "event type outside this projection's EventSet" from
	// a logged skip into a SerializationError (spec.md §9 open
	// question).
	Strict bool

	PostCommit PostCommitPolicy

	// Clock is swappable for tests; nil means time.Now.
	Clock func() time.Time
}

func (o Options[TX]) clock() func() time.Time {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}

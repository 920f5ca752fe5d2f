package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-dcb/runtime/envelope"
	"github.com/go-dcb/runtime/eventschema"
	"github.com/go-dcb/runtime/eventstore"
)

// eventUUID parses a DCBEvent's UUID string, tolerating an empty value
// (some stores may leave it unset on events written before this field
// existed) by minting a fresh one rather than failing the whole event.
func eventUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

// Runner drives one projection's stream-fold-flush state machine
// (spec.md §4.5). A Runner is single-owner: nothing about its state is
// safe for concurrent use by more than one goroutine.
type Runner[TX any] struct {
	store      eventstore.EventStore
	eventSet   *eventschema.EventSet
	checkpoint Checkpoint[TX]
	tx         Transactor[TX]
	handler    EventHandler[TX]
	opts       Options[TX]
	logger     *zap.Logger

	head                 uint64
	position             uint64
	lastFlushedPosition  uint64
	lastFlushedExists    bool
	eventsSinceFlush     int
	lastFlushedAt        time.Time
	openTx               TX
	txOpen               bool
}

// NewRunner builds a Runner. checkpoint and opts.ProjectionID are
// required.
func NewRunner[TX any](
	store eventstore.EventStore,
	eventSet *eventschema.EventSet,
	checkpoint Checkpoint[TX],
	transactor Transactor[TX],
	handler EventHandler[TX],
	opts Options[TX],
	logger *zap.Logger,
) *Runner[TX] {
	if opts.ProjectionID == "" {
		panic("projection: Options.ProjectionID must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Flush = opts.Flush.normalized()
	return &Runner[TX]{
		store:      store,
		eventSet:   eventSet,
		checkpoint: checkpoint,
		tx:         transactor,
		handler:    handler,
		opts:       opts,
		logger:     logger,
	}
}

func (r *Runner[TX]) query() eventstore.DCBQuery {
	if r.opts.Query != nil {
		return *r.opts.Query
	}
	return eventstore.DCBQuery{Items: []eventstore.DCBQueryItem{{Types: r.eventSet.EventTypes()}}}
}

// Run drives the runner from its last durable checkpoint to stream end
// (spec.md §4.5 "run() — drive to stream end"), flushing a final
// partial window before returning if the stream ended mid-window.
func (r *Runner[TX]) Run(ctx context.Context) error {
	pos, exists, err := r.checkpoint.Load(ctx, r.opts.ProjectionID)
	if err != nil {
		return fmt.Errorf("projection: load checkpoint: %w", err)
	}
	r.lastFlushedPosition = pos
	r.lastFlushedExists = exists
	r.position = pos

	head, err := r.store.Head(ctx)
	if err != nil {
		return fmt.Errorf("projection: read head: %w", err)
	}
	r.head = head
	r.lastFlushedAt = r.opts.clock()()

	stream, err := r.store.Read(ctx, r.query(), eventstore.ReadOptions{From: pos})
	if err != nil {
		return fmt.Errorf("projection: read: %w", err)
	}
	defer stream.Close()

	for {
		more, err := r.next(ctx, stream)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	if r.eventsSinceFlush > 0 {
		if err := r.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// next performs spec.md §4.5's per-step stream loop body. It returns
// more=false exactly once the stream has ended.
func (r *Runner[TX]) next(ctx context.Context, stream eventstore.EventStream) (more bool, err error) {
	waitCtx := ctx
	cancel := func() {}
	if r.eventsSinceFlush > 0 {
		interval := r.opts.Flush.LiveTimeInterval
		if r.isReplaying() {
			interval = r.opts.Flush.ReplayTimeInterval
		}
		deadline := r.lastFlushedAt.Add(interval)
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()

	se, ok, streamErr := stream.Next(waitCtx)
	if streamErr != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// Step 2: the deadline fired, not the caller's context — flush
			// if due and report more work without consuming an item.
			if err := r.flushIfNecessary(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, fmt.Errorf("projection: stream: %w", streamErr)
	}
	if !ok {
		return false, nil
	}

	if err := r.handleItem(ctx, se); err != nil {
		return false, err
	}

	r.position = se.Position
	r.eventsSinceFlush++
	if err := r.flushIfNecessary(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runner[TX]) handleItem(ctx context.Context, se eventstore.SequencedEvent) error {
	if !r.txOpen {
		tx, err := r.tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("projection: begin tx: %w", err)
		}
		r.openTx = tx
		r.txOpen = true
	}

	sed, err := envelope.Decode(se.Event.Data)
	if err != nil {
		return newSerializationError("Runner.next.decodeEnvelope", err)
	}

	decoded := r.eventSet.FromEvent(se.Event.Type, sed.Data)
	if !decoded.Matched {
		if r.opts.Strict {
			return newSerializationError(
				"Runner.next.Apply",
				fmt.Errorf("event type %q at position %d is not a member of this projection's EventSet", se.Event.Type, se.Position),
			)
		}
		r.logger.Warn("projection: skipping event outside EventSet (schema drift tolerance)",
			zap.String("event_type", se.Event.Type),
			zap.Uint64("position", se.Position),
		)
		return nil
	}
	if decoded.Err != nil {
		return newSerializationError("Runner.next.Apply", decoded.Err)
	}

	id, err := eventUUID(se.Event.UUID)
	if err != nil {
		return newSerializationError("Runner.next.Apply", err)
	}

	stored := StoredEvent{
		ID:       id,
		Position: se.Position,
		Envelope: envelope.EventEnvelope{
			Timestamp:     sed.Timestamp,
			CorrelationID: sed.CorrelationID,
			CausationID:   sed.CausationID,
			TriggeredBy:   sed.TriggeredBy,
		},
		Tags:  se.Event.Tags,
		Event: decoded.Event,
	}

	if err := r.handler.Handle(ctx, r.openTx, stored); err != nil {
		return newHandlerError("Runner.next.Handle", err)
	}
	return nil
}

func (r *Runner[TX]) isReplaying() bool {
	return r.position <= r.head
}

// flushIfNecessary implements should_flush (spec.md §4.5): replay mode
// flushes on whichever of (count, elapsed) threshold is reached first;
// live mode uses its own (lower) thresholds.
func (r *Runner[TX]) flushIfNecessary(ctx context.Context) error {
	if r.eventsSinceFlush == 0 {
		return nil
	}

	var eventsThreshold int
	var timeThreshold time.Duration
	if r.isReplaying() {
		eventsThreshold = r.opts.Flush.ReplayEventsInterval
		timeThreshold = r.opts.Flush.ReplayTimeInterval
	} else {
		eventsThreshold = r.opts.Flush.LiveEventsInterval
		timeThreshold = r.opts.Flush.LiveTimeInterval
	}

	elapsed := r.opts.clock()().Sub(r.lastFlushedAt)
	if r.eventsSinceFlush >= eventsThreshold || elapsed >= timeThreshold {
		return r.flush(ctx)
	}
	return nil
}

// flush runs spec.md §4.5's flush protocol: checkpoint CAS, handler
// flush, commit, post_commit, counter reset.
func (r *Runner[TX]) flush(ctx context.Context) error {
	if !r.txOpen {
		return nil // spec.md §4.5 flush step 1: no open tx is a no-op
	}

	isReplaying := r.isReplaying()

	if err := r.checkpoint.Save(ctx, r.openTx, r.opts.ProjectionID, r.lastFlushedPosition, r.lastFlushedExists, r.position); err != nil {
		_ = r.tx.Rollback(ctx, r.openTx)
		r.txOpen = false
		var conflict *CheckpointConflictError
		if errors.As(err, &conflict) {
			return err
		}
		return fmt.Errorf("projection: checkpoint save: %w", err)
	}

	if err := r.handler.Flush(ctx, r.openTx, isReplaying); err != nil {
		_ = r.tx.Rollback(ctx, r.openTx)
		r.txOpen = false
		return newHandlerError("Runner.flush.Flush", err)
	}

	if err := r.tx.Commit(ctx, r.openTx); err != nil {
		r.txOpen = false
		return fmt.Errorf("projection: commit: %w", err)
	}
	r.txOpen = false

	if err := r.handler.PostCommit(ctx, isReplaying); err != nil {
		// spec.md §4.5 step 5 / §9: post_commit errors are reported but
		// never retroactively roll back an already-durable commit.
		r.logger.Error("projection: post_commit failed; commit stands",
			zap.String("projection_id", r.opts.ProjectionID),
			zap.Error(err),
		)
	}

	r.lastFlushedPosition = r.position
	r.lastFlushedExists = true
	r.eventsSinceFlush = 0
	r.lastFlushedAt = r.opts.clock()()
	return nil
}

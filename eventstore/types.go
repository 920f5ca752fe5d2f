// Package eventstore defines the contract for the external DCB event store
// this runtime consumes, plus the wire-level types exchanged with it.
//
// The store itself is not part of this module's responsibility (see
// spec.md §1 Out of scope) — this package only describes the shape the
// rest of the runtime depends on, mirroring how the teacher's pkg/dcb
// describes Event/Tag/Query/QueryItem/AppendCondition.
package eventstore

import "context"

// Tag is a single "field:value" indexing facet attached to an event.
type Tag struct {
	Key   string
	Value string
}

// String renders the tag in its on-wire "field:value" form.
func (t Tag) String() string {
	return t.Key + ":" + t.Value
}

// DCBQueryItem is one atomic predicate: an event matches when ALL of its
// tags are present on the event AND its type is one of Types (or Types is
// empty, meaning any type).
type DCBQueryItem struct {
	Types []string
	Tags  []Tag
}

// DCBQuery is a disjunction (OR) of query items.
type DCBQuery struct {
	Items []DCBQueryItem
}

// QueryAll returns a query matching every event.
func QueryAll() DCBQuery {
	return DCBQuery{Items: []DCBQueryItem{{}}}
}

// DCBEvent is an event as exchanged with the store, either on append or
// as read back.
type DCBEvent struct {
	Type string
	Tags []Tag
	Data []byte
	// UUID is set by the caller before Append; the store persists it
	// verbatim and returns it unchanged on Read.
	UUID string
}

// SequencedEvent pairs a DCBEvent with its position in the store's total
// order.
type SequencedEvent struct {
	Position uint64
	Event    DCBEvent
}

// ReadOptions configures a Read call.
type ReadOptions struct {
	From        uint64
	Limit       int
	Descending  bool
	LiveTail    bool
}

// AppendCondition guards an Append with an optimistic-concurrency check:
// the append fails if any event matching FailIfEventsMatch exists at a
// position strictly greater than After.
type AppendCondition struct {
	FailIfEventsMatch DCBQuery
	After             uint64
}

// EventStream is a pull iterator over events returned by Read. Callers
// must call Close when done.
type EventStream interface {
	// Next advances to the next event. It returns ok=false, err=nil at
	// normal stream end, and ok=false, err!=nil on failure.
	Next(ctx context.Context) (event SequencedEvent, ok bool, err error)
	Close() error
}

// EventStore is the external collaborator: append/read/head primitives
// over a DCB-style event log.
type EventStore interface {
	// Head returns the current head position (the position of the last
	// appended event, or 0 if the store is empty).
	Head(ctx context.Context) (uint64, error)

	// Read returns a stream of events matching query, honoring opts.
	Read(ctx context.Context, query DCBQuery, opts ReadOptions) (EventStream, error)

	// Append atomically persists events, optionally guarded by condition.
	// Returns the new head position.
	Append(ctx context.Context, events []DCBEvent, condition *AppendCondition) (uint64, error)
}

// Package emitter implements spec.md §4.4: the buffer a command handler
// uses to collect the events it decides to produce, plus the encoding
// that turns each one into wire form (event type, JSON payload, tags
// derived from its domain IDs, a fresh UUID).
//
// Tag derivation and the ':' assertion mirror the teacher's tag
// validation in pkg/dcb/append_events.go, generalized to the
// Present/Absent DomainIdValue model.
package emitter

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/go-dcb/runtime/eventschema"
	"github.com/go-dcb/runtime/eventstore"
)

// Emitted is one event produced by a handler, already encoded to its
// wire-ready type/tags/data/uuid shape, but not yet wrapped with an
// envelope (that happens at the command executor's append boundary).
type Emitted struct {
	Type string
	Tags []eventstore.Tag
	Data []byte
	UUID uuid.UUID
}

// ToDCBEvent converts an Emitted event to the eventstore.DCBEvent shape
// the store Append call expects.
func (e Emitted) ToDCBEvent() eventstore.DCBEvent {
	return eventstore.DCBEvent{
		Type: e.Type,
		Tags: e.Tags,
		Data: e.Data,
		UUID: e.UUID.String(),
	}
}

// Buffer collects the events a handler decides to emit during one
// command execution. It starts empty and preserves insertion order; the
// executor appends events in that order.
type Buffer struct {
	events []Emitted
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Event appends one event, panicking on a serialization error. Use
// TryEvent when the caller wants to handle that error instead.
func (b *Buffer) Event(e eventschema.Event) {
	if err := b.TryEvent(e); err != nil {
		panic(fmt.Sprintf("emitter: failed to encode event %s: %v", e.EventType(), err))
	}
}

// TryEvent appends one event, surfacing a serialization error instead of
// panicking.
func (b *Buffer) TryEvent(e eventschema.Event) error {
	data, err := eventschema.Marshal(e)
	if err != nil {
		return fmt.Errorf("emitter: marshal %s: %w", e.EventType(), err)
	}

	tags, err := tagsFor(e)
	if err != nil {
		return err
	}

	b.events = append(b.events, Emitted{
		Type: e.EventType(),
		Tags: tags,
		Data: data,
		UUID: uuid.New(),
	})
	return nil
}

// tagsFor derives the "field:value" tags for one event's Present domain
// IDs, asserting none of its declared field names contain ':'.
func tagsFor(e eventschema.Event) ([]eventstore.Tag, error) {
	ids := e.DomainIDs()
	fields := e.DomainIDFields()

	tags := make([]eventstore.Tag, 0, len(fields))
	for _, field := range fields {
		if strings.Contains(field, ":") {
			return nil, fmt.Errorf("emitter: domain-ID field name %q on event %s contains reserved ':' separator", field, e.EventType())
		}
		v, ok := ids[field]
		if !ok || !v.IsPresent() {
			continue
		}
		tags = append(tags, eventstore.Tag{Key: field, Value: v.MustValue()})
	}
	return tags, nil
}

// Len returns the number of events buffered so far.
func (b *Buffer) Len() int { return len(b.events) }

// IsEmpty reports whether no events have been buffered.
func (b *Buffer) IsEmpty() bool { return len(b.events) == 0 }

// ContainsEventType reports whether any buffered event has the given
// EVENT_TYPE.
func (b *Buffer) ContainsEventType(eventType string) bool {
	for _, e := range b.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

// Events returns a copy of the buffered events.
func (b *Buffer) Events() []Emitted {
	out := make([]Emitted, len(b.events))
	copy(out, b.events)
	return out
}

// IntoEvents drains and returns the buffered events, leaving the buffer
// empty.
func (b *Buffer) IntoEvents() []Emitted {
	out := b.events
	b.events = nil
	return out
}

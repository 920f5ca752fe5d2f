// Package memstore is an in-memory eventstore.EventStore used as the fast,
// deterministic stand-in for "the external event store" in unit tests of
// command and projection. It implements exactly the
// append-condition and tag-matching semantics a real DCB store must, so
// tests written against it exercise real concurrency-control behavior.
package memstore

import (
	"context"
	"sync"

	"github.com/go-dcb/runtime/eventstore"
)

// Store is a goroutine-safe, ordered, append-only log of DCBEvents.
type Store struct {
	mu     sync.Mutex
	events []eventstore.SequencedEvent
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) Head(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.events)), nil
}

func (s *Store) Append(ctx context.Context, events []eventstore.DCBEvent, condition *eventstore.AppendCondition) (uint64, error) {
	if len(events) == 0 {
		return 0, &eventstore.ValidationError{
			StoreError: eventstore.StoreError{Op: "Append", Err: errEmptyBatch},
			Field:      "events",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head := uint64(len(s.events))

	if condition != nil {
		for _, se := range s.events {
			if se.Position <= condition.After {
				continue
			}
			if matches(se.Event, condition.FailIfEventsMatch) {
				return 0, &eventstore.IntegrityConflictError{
					StoreError: eventstore.StoreError{
						Op:  "Append",
						Err: errConditionMatched,
					},
					ExpectedAfter: condition.After,
					ActualHead:    head,
				}
			}
		}
	}

	for _, e := range events {
		head++
		s.events = append(s.events, eventstore.SequencedEvent{Position: head, Event: e})
	}
	return head, nil
}

func (s *Store) Read(ctx context.Context, query eventstore.DCBQuery, opts eventstore.ReadOptions) (eventstore.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []eventstore.SequencedEvent
	for _, se := range s.events {
		if se.Position <= opts.From {
			continue
		}
		if matches(se.Event, query) {
			matched = append(matched, se)
		}
	}

	if opts.Descending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	return &stream{events: matched}, nil
}

func matches(e eventstore.DCBEvent, q eventstore.DCBQuery) bool {
	if len(q.Items) == 0 {
		return true
	}
	for _, item := range q.Items {
		if matchesItem(e, item) {
			return true
		}
	}
	return false
}

func matchesItem(e eventstore.DCBEvent, item eventstore.DCBQueryItem) bool {
	if len(item.Types) > 0 {
		found := false
		for _, t := range item.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, qt := range item.Tags {
		found := false
		for _, et := range e.Tags {
			if et == qt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type stream struct {
	events []eventstore.SequencedEvent
	idx    int
}

func (s *stream) Next(ctx context.Context) (eventstore.SequencedEvent, bool, error) {
	if s.idx >= len(s.events) {
		return eventstore.SequencedEvent{}, false, nil
	}
	e := s.events[s.idx]
	s.idx++
	return e, true, nil
}

func (s *stream) Close() error { return nil }

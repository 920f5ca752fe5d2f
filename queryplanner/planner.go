// Package queryplanner implements spec.md §4.2: mapping a command's
// DomainIdBindings plus an EventSet's per-type domain-ID field lists to a
// minimal, correct set of DCB query items.
package queryplanner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-dcb/runtime/eventschema"
	"github.com/go-dcb/runtime/eventstore"
)

// DefaultMaxProductSize bounds the Cartesian product enumerated per
// signature bucket (spec.md §9: "Implementations should cap or reject
// inputs whose product exceeds a configured ceiling; the source does
// not." — this implementation does.)
const DefaultMaxProductSize = 10_000

// ErrQueryTooLarge is returned when a bucket's Cartesian product would
// exceed Options.MaxProductSize.
var ErrQueryTooLarge = errors.New("queryplanner: domain-ID cartesian product exceeds configured ceiling")

// Options configures Plan.
type Options struct {
	// MaxProductSize caps the Cartesian product size per signature
	// bucket. Zero means DefaultMaxProductSize.
	MaxProductSize int
}

// Plan builds the DCBQuery for bindings over eventSet, implementing the
// three-step algorithm of spec.md §4.2.
func Plan(bindings eventschema.DomainIdBindings, eventSet *eventschema.EventSet, opts Options) (eventstore.DCBQuery, error) {
	max := opts.MaxProductSize
	if max <= 0 {
		max = DefaultMaxProductSize
	}

	typeFields := eventSet.EventDomainIDs()

	// Step 1: group event types by their effective, input-filtered,
	// lexicographically-sorted domain-ID signature.
	type bucket struct {
		fields []string // canonical (sorted) field list, the bucket key
		types  []string // event types sharing this signature, in encounter order
	}
	var order []string // signature keys in first-seen order, for deterministic output
	buckets := make(map[string]*bucket)

	sigKey := func(fields []string) string {
		s := ""
		for i, f := range fields {
			if i > 0 {
				s += "\x00"
			}
			s += f
		}
		return s
	}

	for _, tf := range typeFields {
		var filtered []string
		for _, f := range tf.Fields {
			if _, bound := bindings[f]; bound {
				filtered = append(filtered, f)
			}
		}
		sort.Strings(filtered)

		key := sigKey(filtered)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{fields: filtered}
			buckets[key] = b
			order = append(order, key)
		}
		b.types = append(b.types, tf.EventType)
	}

	var items []eventstore.DCBQueryItem

	for _, key := range order {
		b := buckets[key]

		if len(b.fields) == 0 {
			// Step 2, empty-F case: no overlap between this variant's
			// domain IDs and the input bindings (or it declares none).
			items = append(items, eventstore.DCBQueryItem{Types: append([]string(nil), b.types...)})
			continue
		}

		// Step 2, general case: Cartesian product across F's candidate
		// value sequences, iterated in bindings' insertion order within
		// each field's own sequence (field order itself is the sorted
		// canonical order established above).
		product, err := cartesianProduct(bindings, b.fields, max)
		if err != nil {
			return eventstore.DCBQuery{}, err
		}
		for _, tags := range product {
			items = append(items, eventstore.DCBQueryItem{
				Types: append([]string(nil), b.types...),
				Tags:  tags,
			})
		}
	}

	// Step 3: bindings empty overall and no bucket applied at all.
	if len(items) == 0 {
		if len(bindings) == 0 {
			return eventstore.DCBQuery{Items: []eventstore.DCBQueryItem{{Types: eventSet.EventTypes()}}}, nil
		}
		// Every variant had an empty filtered signature (none of its
		// fields are bound) but types were still collected above; this
		// branch only triggers for a genuinely empty EventSet, which
		// NewEventSet already forbids, so it is unreachable in practice.
		return eventstore.DCBQuery{Items: []eventstore.DCBQueryItem{{Types: eventSet.EventTypes()}}}, nil
	}

	return eventstore.DCBQuery{Items: items}, nil
}

// cartesianProduct enumerates, for field list F (already lexicographically
// sorted), every combination of one value per field from bindings,
// rendered as sorted "field:value" tag lists (tags within an item are
// sorted by field name per spec.md §4.2's tie-break rule).
func cartesianProduct(bindings eventschema.DomainIdBindings, fields []string, max int) ([][]eventstore.Tag, error) {
	size := 1
	for _, f := range fields {
		n := len(bindings[f])
		if n == 0 {
			// A field with no candidate values contributes nothing;
			// this bucket key would not have included f unless bound,
			// so this should not happen, but guard defensively.
			return nil, nil
		}
		size *= n
		if size > max {
			return nil, fmt.Errorf("%w: bucket over fields %v would produce %d+ items (max %d)", ErrQueryTooLarge, fields, size, max)
		}
	}

	combos := [][]eventstore.Tag{{}}
	for _, f := range fields {
		values := bindings[f]
		var next [][]eventstore.Tag
		for _, combo := range combos {
			for _, v := range values {
				tags := append(append([]eventstore.Tag(nil), combo...), eventstore.Tag{Key: f, Value: v})
				next = append(next, tags)
			}
		}
		combos = next
	}
	return combos, nil
}

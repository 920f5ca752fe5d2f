// Package eventschema describes events and event sets in a
// language-independent way: event-type metadata, domain-ID field lists,
// and the polymorphic EventSet a command or projection reads.
//
// The teacher repo has no typed-event-schema layer of its own — its
// events are always raw JSON keyed by a string type — so this package is
// built directly from spec.md §3/§4.1, using the table-driven-decoder
// style spec.md §9 recommends as "often simpler" than derive-macro
// expansion.
package eventschema

import (
	"encoding/json"

	"github.com/google/uuid"
)

// DomainIdValue is a tagged value: either Present(string) or Absent.
type DomainIdValue struct {
	present bool
	value   string
}

// PresentID returns a Present domain-ID value.
func PresentID(v string) DomainIdValue { return DomainIdValue{present: true, value: v} }

// AbsentID returns an Absent domain-ID value.
func AbsentID() DomainIdValue { return DomainIdValue{} }

// FromStringPtr converts an optional string into a DomainIdValue: nil (or
// empty) becomes Absent, anything else becomes Present.
func FromStringPtr(v *string) DomainIdValue {
	if v == nil || *v == "" {
		return AbsentID()
	}
	return PresentID(*v)
}

// FromUUID converts a UUID-like value into a DomainIdValue: the nil UUID
// becomes Absent, anything else becomes Present (rendered in its
// canonical string form).
func FromUUID(id uuid.UUID) DomainIdValue {
	if id == uuid.Nil {
		return AbsentID()
	}
	return PresentID(id.String())
}

// IsPresent reports whether the value is Present.
func (v DomainIdValue) IsPresent() bool { return v.present }

// Value returns the underlying string and whether it was Present.
func (v DomainIdValue) Value() (string, bool) { return v.value, v.present }

// MustValue returns the underlying string, panicking if Absent. Intended
// for call sites that have already checked IsPresent.
func (v DomainIdValue) MustValue() string {
	if !v.present {
		panic("eventschema: MustValue called on an Absent DomainIdValue")
	}
	return v.value
}

// DomainIdValues maps a domain-ID field name to one concrete value for a
// single event instance.
type DomainIdValues map[string]DomainIdValue

// DomainIdBindings maps a domain-ID field name to an ordered sequence of
// candidate values drawn from a command's input. Insertion order is
// preserved; it is not semantically significant (query planning sorts
// where required).
type DomainIdBindings map[string][]string

// NewDomainIdBindings returns an empty bindings map.
func NewDomainIdBindings() DomainIdBindings {
	return DomainIdBindings{}
}

// Add appends values to the field's candidate sequence. Calling Add
// repeatedly for the same field concatenates rather than replaces, per
// spec.md §3: "multiple input fields that bind to the same domain-ID name
// concatenate their values into that key's sequence."
func (b DomainIdBindings) Add(field string, values ...string) DomainIdBindings {
	for _, v := range values {
		if v == "" {
			continue
		}
		b[field] = append(b[field], v)
	}
	return b
}

// AddValue is a convenience wrapper over Add for a single DomainIdValue;
// Absent values are silently dropped (they do not constrain the query).
func (b DomainIdBindings) AddValue(field string, v DomainIdValue) DomainIdBindings {
	if s, ok := v.Value(); ok {
		b.Add(field, s)
	}
	return b
}

// Event is the compile-time metadata plus instance-level behavior a
// domain event type must provide.
type Event interface {
	// EventType returns the non-empty, globally unique type name.
	EventType() string
	// DomainIDFields returns the ordered, duplicate-free list of
	// domain-ID field names this event type declares. None may contain
	// ':'.
	DomainIDFields() []string
	// DomainIDs extracts one DomainIdValue per declared field from this
	// instance.
	DomainIDs() DomainIdValues
}

// Marshal serializes an Event's payload to JSON. Kept as a free function
// (rather than a method on the interface) so concrete event types can be
// plain structs with json tags and no custom MarshalJSON.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

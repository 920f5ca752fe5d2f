package eventschema

import "fmt"

// Decoder decodes a JSON payload into a concrete Event instance. Concrete
// event packages supply one decoder per type, e.g.:
//
//	func DecodeAccountOpened(data []byte) (eventschema.Event, error) {
//	    var e AccountOpened
//	    if err := json.Unmarshal(data, &e); err != nil { return nil, err }
//	    return e, nil
//	}
type Decoder func(data []byte) (Event, error)

// entry is one variant of an EventSet: the wire type name, its decoder,
// and the effective domain-ID field list used for query planning.
type entry struct {
	eventType      string
	decode         Decoder
	domainIDFields []string
}

// EventSetEntry registers one Event type (with its decoder and the full
// DOMAIN_ID_FIELDS list it declares) into an EventSet, with an optional
// scope override narrowing the fields the query planner considers for
// this variant.
type EventSetEntry struct {
	EventType      string
	Decode         Decoder
	DomainIDFields []string // the type's full declared list
	ScopeOverride  []string // optional narrowed list for this EventSet
}

// EventSet is a closed, ordered union of event types a command or
// projection reads.
type EventSet struct {
	entries []entry
	byType  map[string]entry
}

// NewEventSet builds an EventSet from its variant entries, validating
// eagerly (spec.md §4.1: "Overrides are validated eagerly") — a scope
// override field not present in the underlying event's declared
// DOMAIN_ID_FIELDS is a programmer error and panics, mirroring the
// teacher's compile-time-assertion posture (spec.md §9) translated to a
// construction-time check since Go has no equivalent static facility.
func NewEventSet(entries ...EventSetEntry) *EventSet {
	if len(entries) == 0 {
		panic("eventschema: NewEventSet requires at least one entry")
	}

	es := &EventSet{
		byType: make(map[string]entry, len(entries)),
	}

	for _, in := range entries {
		if in.EventType == "" {
			panic("eventschema: EventSetEntry.EventType must not be empty")
		}
		fields := in.DomainIDFields
		if in.ScopeOverride != nil {
			declared := make(map[string]bool, len(in.DomainIDFields))
			for _, f := range in.DomainIDFields {
				declared[f] = true
			}
			for _, f := range in.ScopeOverride {
				if !declared[f] {
					panic(fmt.Sprintf(
						"eventschema: scope override field %q for event type %q is not in its declared DOMAIN_ID_FIELDS %v",
						f, in.EventType, in.DomainIDFields,
					))
				}
			}
			fields = in.ScopeOverride
		}

		e := entry{
			eventType:      in.EventType,
			decode:         in.Decode,
			domainIDFields: fields,
		}
		es.entries = append(es.entries, e)
		es.byType[in.EventType] = e
	}

	return es
}

// EventTypes returns the ordered list of EVENT_TYPE strings in this set.
func (es *EventSet) EventTypes() []string {
	out := make([]string, len(es.entries))
	for i, e := range es.entries {
		out[i] = e.eventType
	}
	return out
}

// EventDomainIDs returns, for each variant in order, the pair
// (EVENT_TYPE, effective domain-ID field list).
func (es *EventSet) EventDomainIDs() []EventTypeFields {
	out := make([]EventTypeFields, len(es.entries))
	for i, e := range es.entries {
		out[i] = EventTypeFields{EventType: e.eventType, Fields: e.domainIDFields}
	}
	return out
}

// EventTypeFields pairs an EVENT_TYPE with its effective domain-ID field
// list for this EventSet.
type EventTypeFields struct {
	EventType string
	Fields    []string
}

// DecodeResult distinguishes "type not in this set" from "type matched
// but decode failed" from "decoded successfully", per spec.md §4.1's
// from_event -> Option<Result<Self>>.
type DecodeResult struct {
	// Matched is false when eventType is not a member of this EventSet.
	Matched bool
	Event   Event
	Err     error
}

// FromEvent decodes data as the variant named by eventType. If eventType
// is not in the set, Matched is false and Event/Err are both nil.
func (es *EventSet) FromEvent(eventType string, data []byte) DecodeResult {
	e, ok := es.byType[eventType]
	if !ok {
		return DecodeResult{Matched: false}
	}
	decoded, err := e.decode(data)
	if err != nil {
		return DecodeResult{Matched: true, Err: err}
	}
	return DecodeResult{Matched: true, Event: decoded}
}

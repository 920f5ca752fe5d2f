// Package envelope defines the metadata wrapper every stored event
// carries (spec.md §3 EventEnvelope / StoredEventData) and the
// CommandContext that threads causation/correlation through a command
// execution.
//
// The teacher's internal/dcb.Event already carries CausationID and
// CorrelationID per event (internal/dcb/types.go); this package promotes
// that idea into a first-class, reusable envelope type shared by both
// the command and projection packages.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventEnvelope is the metadata attached to an event at emission time.
type EventEnvelope struct {
	Timestamp     time.Time
	CorrelationID uuid.UUID
	CausationID   uuid.UUID
	TriggeredBy   *uuid.UUID // present when caused by a previously stored event
}

// StoredEventData is the on-wire payload of a persisted event: the
// envelope plus the raw event payload JSON. The DCB store treats this as
// opaque bytes.
type StoredEventData struct {
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	CausationID   uuid.UUID       `json:"causation_id"`
	TriggeredBy   *uuid.UUID      `json:"triggered_by,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// Encode wraps env and a payload's JSON bytes into the on-wire shape.
func Encode(env EventEnvelope, payload []byte) ([]byte, error) {
	return json.Marshal(StoredEventData{
		Timestamp:     env.Timestamp,
		CorrelationID: env.CorrelationID,
		CausationID:   env.CausationID,
		TriggeredBy:   env.TriggeredBy,
		Data:          payload,
	})
}

// Decode parses on-wire bytes into a StoredEventData.
func Decode(data []byte) (StoredEventData, error) {
	var sed StoredEventData
	if err := json.Unmarshal(data, &sed); err != nil {
		return StoredEventData{}, err
	}
	return sed, nil
}

// EventMeta is what an Apply/handle step sees about the historical event
// it is folding — just its timestamp, per spec.md §4.3 step 5.
type EventMeta struct {
	Timestamp time.Time
}

// CommandContext carries the causation/correlation identifiers for one
// command invocation.
type CommandContext struct {
	CommandID     uuid.UUID
	CorrelationID uuid.UUID
	TriggeredBy   *uuid.UUID
}

// NewUserInitiated starts a fresh, user-initiated command: command_id ==
// correlation_id, both freshly generated.
func NewUserInitiated() CommandContext {
	id := uuid.New()
	return CommandContext{CommandID: id, CorrelationID: id}
}

// NewCorrelationContinuation starts a command that continues an existing
// correlation (e.g. a retry, or a follow-up request from the same user
// flow): a fresh command_id, the given correlation_id.
func NewCorrelationContinuation(correlationID uuid.UUID) CommandContext {
	return CommandContext{CommandID: uuid.New(), CorrelationID: correlationID}
}

// NewEventTriggered starts a command caused by a previously stored event
// (a saga/process manager reacting to it): a fresh command_id, the given
// correlation_id, and triggeredBy set to the causing event's ID.
func NewEventTriggered(correlationID, triggeredBy uuid.UUID) CommandContext {
	tb := triggeredBy
	return CommandContext{
		CommandID:     uuid.New(),
		CorrelationID: correlationID,
		TriggeredBy:   &tb,
	}
}

// Envelope builds the EventEnvelope to attach to events emitted by this
// command, stamped with now as the (single, not-to-be-mutated) emission
// timestamp.
func (c CommandContext) Envelope(now time.Time) EventEnvelope {
	return EventEnvelope{
		Timestamp:     now,
		CorrelationID: c.CorrelationID,
		CausationID:   c.CommandID,
		TriggeredBy:   c.TriggeredBy,
	}
}

package eventschema_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dcb/runtime/eventschema"
)

type accountOpened struct {
	AccountID string `json:"account_id"`
	Opening   int64  `json:"opening_balance"`
}

func (e accountOpened) EventType() string        { return "AccountOpened" }
func (e accountOpened) DomainIDFields() []string { return []string{"account_id"} }
func (e accountOpened) DomainIDs() eventschema.DomainIdValues {
	return eventschema.DomainIdValues{"account_id": eventschema.PresentID(e.AccountID)}
}

func decodeAccountOpened(data []byte) (eventschema.Event, error) {
	var e accountOpened
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// Round-trip (spec.md §8 property 3): marshal then unmarshal an Event's
// payload equals the original.
func TestMarshalRoundTrip(t *testing.T) {
	original := accountOpened{AccountID: "acct-1", Opening: 100}
	data, err := eventschema.Marshal(original)
	require.NoError(t, err)

	decoded, err := decodeAccountOpened(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDomainIdValue_PresentAndAbsent(t *testing.T) {
	p := eventschema.PresentID("v1")
	assert.True(t, p.IsPresent())
	v, ok := p.Value()
	assert.True(t, ok)
	assert.Equal(t, "v1", v)
	assert.Equal(t, "v1", p.MustValue())

	a := eventschema.AbsentID()
	assert.False(t, a.IsPresent())
	_, ok = a.Value()
	assert.False(t, ok)
}

func TestDomainIdValue_MustValuePanicsOnAbsent(t *testing.T) {
	assert.Panics(t, func() {
		eventschema.AbsentID().MustValue()
	})
}

func TestFromStringPtr(t *testing.T) {
	s := "v1"
	assert.True(t, eventschema.FromStringPtr(&s).IsPresent())
	assert.False(t, eventschema.FromStringPtr(nil).IsPresent())
	empty := ""
	assert.False(t, eventschema.FromStringPtr(&empty).IsPresent())
}

func TestFromUUID(t *testing.T) {
	id := uuid.New()
	v := eventschema.FromUUID(id)
	assert.True(t, v.IsPresent())
	assert.Equal(t, id.String(), v.MustValue())

	assert.False(t, eventschema.FromUUID(uuid.Nil).IsPresent())
}

// spec.md §3: "multiple input fields that bind to the same domain-ID
// name concatenate their values into that key's sequence."
func TestDomainIdBindings_AddConcatenates(t *testing.T) {
	b := eventschema.NewDomainIdBindings()
	b.Add("account_id", "a1")
	b.Add("account_id", "a2", "a3")
	assert.Equal(t, []string{"a1", "a2", "a3"}, b["account_id"])
}

func TestDomainIdBindings_AddValueDropsAbsent(t *testing.T) {
	b := eventschema.NewDomainIdBindings()
	b.AddValue("account_id", eventschema.PresentID("a1"))
	b.AddValue("account_id", eventschema.AbsentID())
	assert.Equal(t, []string{"a1"}, b["account_id"])
}

func TestEventSet_EventTypesAndDomainIDs(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "AccountOpened", Decode: decodeAccountOpened, DomainIDFields: []string{"account_id"}},
	)
	assert.Equal(t, []string{"AccountOpened"}, set.EventTypes())
	assert.Equal(t, []eventschema.EventTypeFields{{EventType: "AccountOpened", Fields: []string{"account_id"}}}, set.EventDomainIDs())
}

func TestEventSet_ScopeOverrideNarrowsFields(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{
			EventType:      "BetTracked",
			Decode:         decodeAccountOpened,
			DomainIDFields: []string{"bet_id", "user_id"},
			ScopeOverride:  []string{"user_id"},
		},
	)
	assert.Equal(t, []eventschema.EventTypeFields{{EventType: "BetTracked", Fields: []string{"user_id"}}}, set.EventDomainIDs())
}

// spec.md §4.1: a scope override field not in the underlying event's
// declared DOMAIN_ID_FIELDS is a programmer error, checked eagerly.
func TestEventSet_InvalidScopeOverridePanics(t *testing.T) {
	assert.Panics(t, func() {
		eventschema.NewEventSet(
			eventschema.EventSetEntry{
				EventType:      "BetTracked",
				Decode:         decodeAccountOpened,
				DomainIDFields: []string{"bet_id"},
				ScopeOverride:  []string{"user_id"}, // not declared
			},
		)
	})
}

func TestEventSet_FromEvent(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "AccountOpened", Decode: decodeAccountOpened, DomainIDFields: []string{"account_id"}},
	)

	data, err := eventschema.Marshal(accountOpened{AccountID: "a1", Opening: 5})
	require.NoError(t, err)

	matched := set.FromEvent("AccountOpened", data)
	assert.True(t, matched.Matched)
	require.NoError(t, matched.Err)
	assert.Equal(t, accountOpened{AccountID: "a1", Opening: 5}, matched.Event)

	unmatched := set.FromEvent("SomeOtherType", data)
	assert.False(t, unmatched.Matched)
	assert.Nil(t, unmatched.Event)
	assert.NoError(t, unmatched.Err)

	malformed := set.FromEvent("AccountOpened", []byte(`not json`))
	assert.True(t, malformed.Matched)
	assert.Error(t, malformed.Err)
}

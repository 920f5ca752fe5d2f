package emitter_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dcb/runtime/emitter"
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

type orphanedEvent struct {
	OwnerID *string `json:"owner_id,omitempty"`
}

func (e orphanedEvent) EventType() string        { return "OrphanedEvent" }
func (e orphanedEvent) DomainIDFields() []string { return []string{"owner_id"} }
func (e orphanedEvent) DomainIDs() eventschema.DomainIdValues {
	return eventschema.DomainIdValues{"owner_id": eventschema.FromStringPtr(e.OwnerID)}
}

type badFieldNameEvent struct{}

func (e badFieldNameEvent) EventType() string        { return "BadFieldNameEvent" }
func (e badFieldNameEvent) DomainIDFields() []string { return []string{"account:id"} }
func (e badFieldNameEvent) DomainIDs() eventschema.DomainIdValues {
	return eventschema.DomainIdValues{"account:id": eventschema.PresentID("x")}
}

func TestBuffer_StartsEmpty(t *testing.T) {
	buf := emitter.New()
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, buf.Events())
}

func TestBuffer_EventAppendsInOrder(t *testing.T) {
	buf := emitter.New()
	buf.Event(accountOpened{AccountID: "a1", Opening: 10})
	buf.Event(accountOpened{AccountID: "a2", Opening: 20})

	require.Equal(t, 2, buf.Len())
	events := buf.Events()
	assert.Equal(t, "AccountOpened", events[0].Type)
	assert.Equal(t, "AccountOpened", events[1].Type)

	var first accountOpened
	require.NoError(t, json.Unmarshal(events[0].Data, &first))
	assert.Equal(t, "a1", first.AccountID)

	var second accountOpened
	require.NoError(t, json.Unmarshal(events[1].Data, &second))
	assert.Equal(t, "a2", second.AccountID)
}

func TestBuffer_TagsDerivedFromPresentDomainIDs(t *testing.T) {
	buf := emitter.New()
	require.NoError(t, buf.TryEvent(accountOpened{AccountID: "a1", Opening: 10}))

	tags := buf.Events()[0].Tags
	require.Len(t, tags, 1)
	assert.Equal(t, "account_id", tags[0].Key)
	assert.Equal(t, "a1", tags[0].Value)
	assert.Equal(t, "account_id:a1", tags[0].String())
}

// spec.md §4.4: Absent domain-ID values produce no tag.
func TestBuffer_AbsentDomainIDOmitsTag(t *testing.T) {
	buf := emitter.New()
	require.NoError(t, buf.TryEvent(orphanedEvent{}))
	assert.Empty(t, buf.Events()[0].Tags)
}

// spec.md §4.4: a ':' in a domain-ID field name is asserted against at
// emission time.
func TestBuffer_RejectsColonInFieldName(t *testing.T) {
	buf := emitter.New()
	err := buf.TryEvent(badFieldNameEvent{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved ':'")
}

func TestBuffer_ContainsEventType(t *testing.T) {
	buf := emitter.New()
	buf.Event(accountOpened{AccountID: "a1"})
	assert.True(t, buf.ContainsEventType("AccountOpened"))
	assert.False(t, buf.ContainsEventType("SentFunds"))
}

func TestBuffer_EventsEachHaveAFreshUUID(t *testing.T) {
	buf := emitter.New()
	buf.Event(accountOpened{AccountID: "a1"})
	buf.Event(accountOpened{AccountID: "a2"})

	events := buf.Events()
	assert.NotEqual(t, events[0].UUID, events[1].UUID)
}

func TestBuffer_IntoEventsDrainsBuffer(t *testing.T) {
	buf := emitter.New()
	buf.Event(accountOpened{AccountID: "a1"})

	drained := buf.IntoEvents()
	assert.Len(t, drained, 1)
	assert.True(t, buf.IsEmpty())
}

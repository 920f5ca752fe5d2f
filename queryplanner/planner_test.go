package queryplanner_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dcb/runtime/eventschema"
	"github.com/go-dcb/runtime/eventstore"
	"github.com/go-dcb/runtime/queryplanner"
)

func decodeNoop(data []byte) (eventschema.Event, error) { return nil, nil }

// S5: a mixed-field EventSet (two variants scoped by user_id only, one
// scoped by bet_id+user_id) plans exactly two items, one per signature
// bucket.
func TestPlan_MixedFieldSet(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "UserRegistered", Decode: decodeNoop, DomainIDFields: []string{"user_id"}},
		eventschema.EventSetEntry{EventType: "UserCompletedOnboarding", Decode: decodeNoop, DomainIDFields: []string{"user_id"}},
		eventschema.EventSetEntry{EventType: "BetTracked", Decode: decodeNoop, DomainIDFields: []string{"bet_id", "user_id"}},
	)

	bindings := eventschema.NewDomainIdBindings().
		Add("user_id", "abc").
		Add("bet_id", "xyz")

	q, err := queryplanner.Plan(bindings, set, queryplanner.Options{})
	require.NoError(t, err)
	require.Len(t, q.Items, 2)

	byTag := map[string]eventstore.DCBQueryItem{}
	for _, item := range q.Items {
		byTag[tagsKey(item.Tags)] = item
	}

	userItem, ok := byTag["user_id:abc"]
	require.True(t, ok, "expected an item tagged only user_id:abc, got %+v", q.Items)
	assert.ElementsMatch(t, []string{"UserRegistered", "UserCompletedOnboarding"}, userItem.Types)

	betItem, ok := byTag["bet_id:xyz,user_id:abc"]
	require.True(t, ok, "expected an item tagged bet_id:xyz,user_id:abc, got %+v", q.Items)
	assert.Equal(t, []string{"BetTracked"}, betItem.Types)
}

func tagsKey(tags []eventstore.Tag) string {
	s := ""
	for i, t := range tags {
		if i > 0 {
			s += ","
		}
		s += t.String()
	}
	return s
}

// Edge case: a binding field no event declares is silently ignored, not
// an error.
func TestPlan_IgnoresUnknownBindingField(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "AccountOpened", Decode: decodeNoop, DomainIDFields: []string{"account_id"}},
	)
	bindings := eventschema.NewDomainIdBindings().
		Add("account_id", "acct-1").
		Add("tenant_id", "t-1") // no event declares this field

	q, err := queryplanner.Plan(bindings, set, queryplanner.Options{})
	require.NoError(t, err)
	require.Len(t, q.Items, 1)
	assert.Equal(t, []eventstore.Tag{{Key: "account_id", Value: "acct-1"}}, q.Items[0].Tags)
}

// Edge case: an empty-DOMAIN_ID_FIELDS variant is always queried by type
// only, with no tags.
func TestPlan_EmptyDomainIDFieldsIsTypeOnly(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "SystemHeartbeat", Decode: decodeNoop, DomainIDFields: nil},
	)
	bindings := eventschema.NewDomainIdBindings().Add("account_id", "acct-1")

	q, err := queryplanner.Plan(bindings, set, queryplanner.Options{})
	require.NoError(t, err)
	require.Len(t, q.Items, 1)
	assert.Empty(t, q.Items[0].Tags)
	assert.Equal(t, []string{"SystemHeartbeat"}, q.Items[0].Types)
}

// Edge case: empty bindings overall plans a single item matching every
// type in the set.
func TestPlan_EmptyBindingsMatchesEverything(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "AccountOpened", Decode: decodeNoop, DomainIDFields: []string{"account_id"}},
		eventschema.EventSetEntry{EventType: "SentFunds", Decode: decodeNoop, DomainIDFields: []string{"account_id"}},
	)

	q, err := queryplanner.Plan(eventschema.NewDomainIdBindings(), set, queryplanner.Options{})
	require.NoError(t, err)
	require.Len(t, q.Items, 1)
	assert.Empty(t, q.Items[0].Tags)
	assert.ElementsMatch(t, []string{"AccountOpened", "SentFunds"}, q.Items[0].Types)
}

// Cartesian product: two fields each with two candidate values produce
// four items, one per combination, tags sorted by field name.
func TestPlan_CartesianProductAcrossFields(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "CourseSubscriptionChanged", Decode: decodeNoop, DomainIDFields: []string{"course_id", "student_id"}},
	)
	bindings := eventschema.NewDomainIdBindings().
		Add("course_id", "c1", "c2").
		Add("student_id", "s1", "s2")

	q, err := queryplanner.Plan(bindings, set, queryplanner.Options{})
	require.NoError(t, err)
	require.Len(t, q.Items, 4)

	seen := map[string]bool{}
	for _, item := range q.Items {
		seen[tagsKey(item.Tags)] = true
		assert.Equal(t, []string{"CourseSubscriptionChanged"}, item.Types)
	}
	assert.True(t, seen["course_id:c1,student_id:s1"])
	assert.True(t, seen["course_id:c1,student_id:s2"])
	assert.True(t, seen["course_id:c2,student_id:s1"])
	assert.True(t, seen["course_id:c2,student_id:s2"])
}

// Plan idempotence (spec.md §8 property 1): two calls with the same
// bindings value produce the same item set.
func TestPlan_Idempotent(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "BetTracked", Decode: decodeNoop, DomainIDFields: []string{"bet_id", "user_id"}},
	)
	bindings := eventschema.NewDomainIdBindings().Add("bet_id", "b1").Add("user_id", "u1", "u2")

	q1, err := queryplanner.Plan(bindings, set, queryplanner.Options{})
	require.NoError(t, err)
	q2, err := queryplanner.Plan(bindings, set, queryplanner.Options{})
	require.NoError(t, err)

	b1, err := json.Marshal(q1)
	require.NoError(t, err)
	b2, err := json.Marshal(q2)
	require.NoError(t, err)
	assert.JSONEq(t, string(b1), string(b2))
}

// Domain-ID Cartesian product growth guard (spec.md §9): a product that
// would exceed MaxProductSize is rejected rather than enumerated.
func TestPlan_RejectsOversizedProduct(t *testing.T) {
	set := eventschema.NewEventSet(
		eventschema.EventSetEntry{EventType: "BetTracked", Decode: decodeNoop, DomainIDFields: []string{"bet_id", "user_id"}},
	)
	bindings := eventschema.NewDomainIdBindings()
	for i := 0; i < 10; i++ {
		bindings.Add("bet_id", "b")
	}
	for i := 0; i < 10; i++ {
		bindings.Add("user_id", "u")
	}

	_, err := queryplanner.Plan(bindings, set, queryplanner.Options{MaxProductSize: 50})
	require.Error(t, err)
	assert.ErrorIs(t, err, queryplanner.ErrQueryTooLarge)
}

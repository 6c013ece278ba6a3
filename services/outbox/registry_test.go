package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistry(t *testing.T) {
	reg, err := NewSubscriptionRegistry([]Subscription{
		{EventType: "RecordPublished", Group: "InsertRecordFeatures"},
		{EventType: "RecordPublished", Group: "FanOutToIndexBackends"},
		{EventType: "RecordPublished", Group: "KeywordIndexHandler"},
		{EventType: "RecordPublished", Group: "VectorIndexHandler"},
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"InsertRecordFeatures", "FanOutToIndexBackends", "KeywordIndexHandler", "VectorIndexHandler"},
		reg.GroupsFor("RecordPublished"))

	// Zero subscribers: append writes the event row but no deliveries.
	assert.Nil(t, reg.GroupsFor("IndexRecord"))

	assert.Len(t, reg.All(), 4)
}

func TestSubscriptionRegistry_Duplicate(t *testing.T) {
	_, err := NewSubscriptionRegistry([]Subscription{
		{EventType: "RecordPublished", Group: "InsertRecordFeatures"},
		{EventType: "RecordPublished", Group: "InsertRecordFeatures"},
	})
	assert.Error(t, err)
}

func TestSubscriptionRegistry_EmptyField(t *testing.T) {
	_, err := NewSubscriptionRegistry([]Subscription{{EventType: "", Group: "G"}})
	assert.Error(t, err)
}

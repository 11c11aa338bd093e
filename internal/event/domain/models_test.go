package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKey_NativeIDStableAcrossRedelivery(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(3 * time.Hour)
	user := snowflake.ID(11)

	// With a native event id the payload and arrival time are irrelevant.
	k1 := IdempotencyKey(user, SourcePushJSON, TopicItemSold, "evt-1", []byte(`{"a":1}`), t1)
	k2 := IdempotencyKey(user, SourcePushJSON, TopicItemSold, "evt-1", []byte(`{"a":2}`), t2)
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, k1, IdempotencyKey(user, SourcePushJSON, TopicItemSold, "evt-2", []byte(`{"a":1}`), t1))
	// The same external id on a different topic is a different event.
	assert.NotEqual(t, k1, IdempotencyKey(user, SourcePushJSON, TopicItemEnded, "evt-1", []byte(`{"a":1}`), t1))
}

func TestIdempotencyKey_ScopedToUserAndSource(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	payload := []byte(`{"order_id":"1001"}`)

	// Marketplaces reuse order and event ids across accounts. Two users
	// reporting the same external id are two events, not a redelivery.
	a := IdempotencyKey(snowflake.ID(11), SourcePoll, TopicItemSold, "order-1001", payload, at)
	b := IdempotencyKey(snowflake.ID(22), SourcePoll, TopicItemSold, "order-1001", payload, at)
	assert.NotEqual(t, a, b)

	// The same event id seen by different ingresses is kept apart too.
	c := IdempotencyKey(snowflake.ID(11), SourcePushJSON, TopicItemSold, "order-1001", payload, at)
	assert.NotEqual(t, a, c)
}

func TestIdempotencyKey_ContentHashBucketsByMinute(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	payload := []byte(`{"listing_id":"L-1"}`)
	user := snowflake.ID(11)

	// Retries inside the same minute collapse.
	k1 := IdempotencyKey(user, SourcePushXML, TopicItemListed, "", payload, base)
	k2 := IdempotencyKey(user, SourcePushXML, TopicItemListed, "", payload, base.Add(30*time.Second))
	assert.Equal(t, k1, k2)

	// A genuine repeat later does not.
	k3 := IdempotencyKey(user, SourcePushXML, TopicItemListed, "", payload, base.Add(2*time.Minute))
	assert.NotEqual(t, k1, k3)

	// Different content never collapses.
	k4 := IdempotencyKey(user, SourcePushXML, TopicItemListed, "", []byte(`{"listing_id":"L-2"}`), base)
	assert.NotEqual(t, k1, k4)

	// Neither does identical content from another user.
	k5 := IdempotencyKey(snowflake.ID(22), SourcePushXML, TopicItemListed, "", payload, base)
	assert.NotEqual(t, k1, k5)
}

func TestTopicValid(t *testing.T) {
	for _, topic := range []Topic{TopicItemListed, TopicItemRevised, TopicItemEnded, TopicItemSold, TopicItemOutOfStock} {
		assert.True(t, topic.Valid(), string(topic))
	}
	assert.False(t, Topic("item-exploded").Valid())
	assert.False(t, Topic("").Valid())
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Topic is the normalized event kind, independent of the transport the event
// arrived on.
type Topic string

const (
	TopicItemListed     Topic = "item-listed"
	TopicItemRevised    Topic = "item-revised"
	TopicItemEnded      Topic = "item-ended"
	TopicItemSold       Topic = "item-sold"
	TopicItemOutOfStock Topic = "item-out-of-stock"
)

func (t Topic) Valid() bool {
	switch t {
	case TopicItemListed, TopicItemRevised, TopicItemEnded, TopicItemSold, TopicItemOutOfStock:
		return true
	}
	return false
}

// Source records which ingress produced the event.
type Source string

const (
	SourcePushJSON Source = "push-json"
	SourcePushXML  Source = "push-xml"
	SourcePoll     Source = "poll"
)

type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Payload is the normalized body shared by every topic. Fields irrelevant to
// a topic are zero.
type Payload struct {
	ListingID  string    `json:"listing_id"`
	Title      string    `json:"title,omitempty"`
	SKU        string    `json:"sku,omitempty"`
	CustomSKU  string    `json:"custom_sku,omitempty"`
	PriceCents int64     `json:"price_cents,omitempty"`
	FeeCents   int64     `json:"fee_cents,omitempty"`
	Quantity   int       `json:"quantity,omitempty"`
	Location   string    `json:"location,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	OrderState string    `json:"order_state,omitempty"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

type RawEvent struct {
	ID     snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID snowflake.ID `json:"user_id" gorm:"index:idx_raw_events_user"`
	Topic  Topic        `json:"topic"`
	Source Source       `json:"source"`
	// ExternalID is the marketplace's own event id when the transport
	// carries one, "" otherwise.
	ExternalID     string         `json:"external_id"`
	IdempotencyKey string         `json:"idempotency_key" gorm:"uniqueIndex:idx_raw_events_idem"`
	Payload        datatypes.JSON `json:"payload"`
	Status         Status         `json:"status" gorm:"index:idx_raw_events_status"`
	DuplicateCount int            `json:"duplicate_count"`
	Attempts       int            `json:"attempts"`
	FailureReason  string         `json:"failure_reason"`
	ReceivedAt     time.Time      `json:"received_at"`
	ProcessedAt    *time.Time     `json:"processed_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (RawEvent) TableName() string {
	return "raw_events"
}

// dedupBucket widens content-hash deduplication to deliveries landing within
// the same minute, so retried webhooks without a native event id still
// collapse while a genuine repeat event an hour later does not.
const dedupBucket = time.Minute

// IdempotencyKey derives the dedup key for one delivery. The key is scoped to
// the owning user and ingress so the same marketplace event id arriving for
// two different accounts never collapses onto one row. When the transport
// carries a native event id the key is stable across any redelivery; without
// one it falls back to hashing the normalized payload plus a time bucket.
func IdempotencyKey(userID snowflake.ID, source Source, topic Topic, externalID string, payload []byte, receivedAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|", userID, source, topic)
	if externalID != "" {
		fmt.Fprintf(h, "%s", externalID)
		return hex.EncodeToString(h.Sum(nil))
	}
	digest := sha256.Sum256(payload)
	fmt.Fprintf(h, "%s|%d", hex.EncodeToString(digest[:]), receivedAt.UTC().Truncate(dedupBucket).Unix())
	return hex.EncodeToString(h.Sum(nil))
}

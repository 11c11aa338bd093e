package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
	StatusDeleted Status = "deleted"
)

// Subscription mirrors one remote webhook registration. ExternalID is the
// marketplace's handle for it and is what renew and teardown act on.
type Subscription struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID         snowflake.ID      `json:"user_id" gorm:"uniqueIndex:idx_subscriptions_user_topic"`
	Topic          eventdomain.Topic `json:"topic" gorm:"uniqueIndex:idx_subscriptions_user_topic"`
	ExternalID     string            `json:"external_id"`
	DestinationURL string            `json:"destination_url"`
	Protocol       string            `json:"protocol"`
	Status         Status            `json:"status"`
	ExpiresAt      time.Time         `json:"expires_at"`
	LastRenewedAt  *time.Time        `json:"last_renewed_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Topics every connected user must be subscribed to.
var RequiredTopics = []eventdomain.Topic{
	eventdomain.TopicItemListed,
	eventdomain.TopicItemRevised,
	eventdomain.TopicItemEnded,
	eventdomain.TopicItemSold,
	eventdomain.TopicItemOutOfStock,
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Kind partitions notifications by the event that produced them.
type Kind string

const (
	KindListingImported Kind = "listing_imported"
	KindItemSold        Kind = "item_sold"
	KindRelistFailed    Kind = "relist_failed"
	KindReconnect       Kind = "reconnect_required"
)

type Notification struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID `json:"user_id" gorm:"index:idx_notifications_user"`
	Kind      Kind         `json:"kind"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	ReadAt    *time.Time   `json:"read_at"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EndedReason records why a listing closed. Empty while the item is active.
type EndedReason string

const (
	// EndedSold means the listing closed because its stock sold through.
	EndedSold EndedReason = "sold"
	// EndedUnsold means the listing closed without a recorded sale, whether
	// ended by the seller or expired on the marketplace.
	EndedUnsold EndedReason = "unsold"
)

// Item is one unit of inventory mirrored from the marketplace. At most one
// non-ended listing id maps to one Item per user; "ended" items are
// deactivated, never deleted, so a relist can reactivate the same row.
type Item struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID `gorm:"not null;uniqueIndex:idx_items_user_listing" json:"user_id"`
	ListingID    string       `gorm:"column:listing_id;uniqueIndex:idx_items_user_listing" json:"listing_id"`
	SKU          string       `gorm:"column:sku" json:"sku,omitempty"`
	CustomSKU    string       `gorm:"column:custom_sku" json:"custom_sku,omitempty"`
	Title        string       `gorm:"not null" json:"title"`
	PriceCents   int64        `gorm:"column:price_cents" json:"price_cents"`
	CostCents    *int64       `gorm:"column:cost_cents" json:"cost_cents,omitempty"`
	Quantity     int          `gorm:"not null;default:0" json:"quantity"`
	Active       bool         `gorm:"not null;default:true" json:"active"`
	Location     string       `gorm:"column:location" json:"location,omitempty"`
	EndedAt      *time.Time   `gorm:"column:ended_at" json:"ended_at,omitempty"`
	EndedReason  EndedReason  `gorm:"column:ended_reason;not null;default:''" json:"ended_reason,omitempty"`
	LastSyncedAt time.Time    `gorm:"column:last_synced_at" json:"last_synced_at"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

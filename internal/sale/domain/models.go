package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusPaid      SaleStatus = "paid"
	SaleStatusShipped   SaleStatus = "shipped"
	SaleStatusCompleted SaleStatus = "completed"
)

// saleStatusRank orders statuses so stale out-of-order updates cannot move a
// sale backward.
var saleStatusRank = map[SaleStatus]int{
	SaleStatusPending:   0,
	SaleStatusPaid:      1,
	SaleStatusShipped:   2,
	SaleStatusCompleted: 3,
}

// Advances reports whether moving to next is a forward transition from s.
func (s SaleStatus) Advances(next SaleStatus) bool {
	return saleStatusRank[next] > saleStatusRank[s]
}

// Sale is a snapshot of one completed transaction. ItemID is a weak reference:
// a Sale outlives its Item, and an orphaned Sale (nil ItemID) stays visible
// until re-matched.
type Sale struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	UserID     snowflake.ID   `gorm:"not null;uniqueIndex:idx_sales_user_order" json:"user_id"`
	OrderID    string         `gorm:"column:order_id;uniqueIndex:idx_sales_user_order" json:"order_id"`
	ItemID     *snowflake.ID  `gorm:"column:item_id;index" json:"item_id,omitempty"`
	ListingID  string         `gorm:"column:listing_id" json:"listing_id,omitempty"`
	Title      string         `gorm:"not null" json:"title"`
	SKU        string         `gorm:"column:sku" json:"sku,omitempty"`
	CustomSKU  string         `gorm:"column:custom_sku" json:"custom_sku,omitempty"`
	PriceCents int64          `gorm:"column:price_cents" json:"price_cents"`
	CostCents  *int64         `gorm:"column:cost_cents" json:"cost_cents,omitempty"`
	Fees       datatypes.JSON `gorm:"column:fees" json:"fees,omitempty"`
	Quantity   int            `gorm:"not null;default:1" json:"quantity"`
	Status     SaleStatus     `gorm:"not null;default:'pending'" json:"status"`
	SoldAt     time.Time      `gorm:"column:sold_at" json:"sold_at"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

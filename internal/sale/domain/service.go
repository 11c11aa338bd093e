package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/pkg/db/pagination"
)

// RecordSaleRequest carries one marketplace order into the sale pipeline. The
// live item-sold path and the historical backfill both go through this shape,
// so the two paths cannot diverge in behavior.
type RecordSaleRequest struct {
	UserID     snowflake.ID
	OrderID    string
	ListingID  string
	Title      string
	SKU        string
	CustomSKU  string
	PriceCents int64
	FeeCents   int64
	Quantity   int
	Status     SaleStatus
	SoldAt     time.Time
}

// RecordOutcome reports what RecordSale did.
type RecordOutcome struct {
	Sale    *Sale
	Created bool
	Matched bool
	// Strategy names the matcher strategy that bound the sale, "" when orphaned.
	Strategy string
}

type ListOrphansRequest struct {
	UserID    snowflake.ID
	PageToken string
	PageSize  int32
}

type ListOrphansResponse struct {
	pagination.PageInfo
	Sales []Sale `json:"sales"`
}

type Service interface {
	RecordSale(ctx context.Context, req RecordSaleRequest) (RecordOutcome, error)
	UpdateStatus(ctx context.Context, userID snowflake.ID, orderID string, status SaleStatus) error
	ListOrphans(ctx context.Context, req ListOrphansRequest) (ListOrphansResponse, error)
	Rematch(ctx context.Context, userID, saleID snowflake.ID) (RecordOutcome, error)
	RematchAll(ctx context.Context, userID snowflake.ID) (int, error)
	ExistsForListing(ctx context.Context, userID snowflake.ID, listingID string) (bool, error)
}

var (
	ErrNotFound        = errors.New("sale_not_found")
	ErrInvalidOrder    = errors.New("sale_invalid_order")
	ErrInvalidID       = errors.New("sale_invalid_id")
	ErrStaleTransition = errors.New("sale_stale_transition")
)

package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ListedUpsert describes a listing seen on the marketplace.
type ListedUpsert struct {
	UserID     snowflake.ID
	ListingID  string
	SKU        string
	CustomSKU  string
	Title      string
	PriceCents int64
	Quantity   int
	Location   string
}

// UpsertOutcome reports what UpsertListed did, for observability.
type UpsertOutcome string

const (
	OutcomeCreated     UpsertOutcome = "created"
	OutcomeReactivated UpsertOutcome = "reactivated"
	OutcomeUpdated     UpsertOutcome = "updated"
)

// Revision carries the mutable fields of a revise event.
type Revision struct {
	UserID     snowflake.ID
	ListingID  string
	Title      string
	PriceCents int64
	Quantity   int
}

type Service interface {
	UpsertListed(ctx context.Context, req ListedUpsert) (*Item, UpsertOutcome, error)
	ApplyRevision(ctx context.Context, rev Revision) error
	End(ctx context.Context, userID snowflake.ID, listingID string, reason EndedReason) error
	MarkOutOfStock(ctx context.Context, userID snowflake.ID, listingID string) error
	DecrementForSale(ctx context.Context, userID, itemID snowflake.ID, quantity int) (*Item, error)
	// MarkRelisted rebinds an ended item to its replacement listing and
	// brings it back active at the new price.
	MarkRelisted(ctx context.Context, userID, itemID snowflake.ID, newListingID string, priceCents int64) (*Item, error)
	GetByID(ctx context.Context, userID, itemID snowflake.ID) (*Item, error)
	GetByListingID(ctx context.Context, userID snowflake.ID, listingID string) (*Item, error)
}

var (
	ErrNotFound = errors.New("item_not_found")
	// ErrOrphanRevision marks a revision for a listing that was never imported.
	// A recoverable gap, not a failure: the listed event may simply not have
	// been captured yet.
	ErrOrphanRevision = errors.New("item_orphan_revision")
	ErrInvalidListing = errors.New("item_invalid_listing")
)

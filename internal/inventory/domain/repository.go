package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *Item) error
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Item, error)
	FindByListingID(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string) (*Item, error)
	FindByCustomSKU(ctx context.Context, db *gorm.DB, userID snowflake.ID, customSKU string) (*Item, error)
	FindBySKU(ctx context.Context, db *gorm.DB, userID snowflake.ID, sku string) (*Item, error)
	FindByTitleFold(ctx context.Context, db *gorm.DB, userID snowflake.ID, title string) (*Item, error)
	ListMatchable(ctx context.Context, db *gorm.DB, userID snowflake.ID, endedSince time.Time) ([]*Item, error)
	UpdateRevisableFields(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string, title string, priceCents int64, quantity int, at time.Time) (int64, error)
	Reactivate(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string, title string, priceCents int64, quantity int, at time.Time) (int64, error)
	Deactivate(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string, reason EndedReason, at time.Time) (int64, error)
	Relist(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, newListingID string, priceCents int64, at time.Time) (int64, error)
	SetQuantity(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, quantity int, at time.Time) error
	DecrementQuantity(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, by int, at time.Time) (*Item, error)
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sale *Sale) error
	FindByOrderID(ctx context.Context, db *gorm.DB, userID snowflake.ID, orderID string) (*Sale, error)
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Sale, error)
	ExistsForListing(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, orderID string, status SaleStatus, at time.Time) error
	BindItem(ctx context.Context, db *gorm.DB, userID, saleID snowflake.ID, itemID *snowflake.ID, at time.Time) error
	ItemExists(ctx context.Context, db *gorm.DB, userID, itemID snowflake.ID) (bool, error)
	ListOrphans(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Pagination) ([]*Sale, error)
}

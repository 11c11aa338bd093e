package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/sale/domain"
	"github.com/shelfsync/shelfsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sale *domain.Sale) error {
	return db.WithContext(ctx).Create(sale).Error
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, userID snowflake.ID, orderID string) (*domain.Sale, error) {
	var sale domain.Sale
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM sales WHERE user_id = ? AND order_id = ?`,
		userID, orderID,
	).Scan(&sale).Error
	if err != nil {
		return nil, err
	}
	if sale.ID == 0 {
		return nil, nil
	}
	return &sale, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Sale, error) {
	var sale domain.Sale
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM sales WHERE user_id = ? AND id = ?`,
		userID, id,
	).Scan(&sale).Error
	if err != nil {
		return nil, err
	}
	if sale.ID == 0 {
		return nil, nil
	}
	return &sale, nil
}

func (r *repo) ExistsForListing(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Sale{}).
		Where("user_id = ? AND listing_id = ? AND listing_id <> ''", userID, listingID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, orderID string, status domain.SaleStatus, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sales SET status = ?, updated_at = ? WHERE user_id = ? AND order_id = ?`,
		status, at, userID, orderID,
	).Error
}

func (r *repo) BindItem(ctx context.Context, db *gorm.DB, userID, saleID snowflake.ID, itemID *snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sales SET item_id = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		itemID, at, userID, saleID,
	).Error
}

func (r *repo) ItemExists(ctx context.Context, db *gorm.DB, userID, itemID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("items").
		Where("user_id = ? AND id = ?", userID, itemID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListOrphans(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Pagination) ([]*domain.Sale, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Sale{}).
		Where("user_id = ? AND item_id IS NULL", userID)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		if cursor.ID != "" {
			stmt = stmt.Where("id < ?", cursor.ID)
		}
	}

	limit := page.PageSize
	if limit <= 0 {
		limit = 10
	}

	var sales []*domain.Sale
	err := stmt.
		Order("id desc").
		Limit(limit + 1).
		Find(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}

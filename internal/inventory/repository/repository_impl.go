package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/inventory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.Item) error {
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Item, error) {
	return r.findOne(ctx, db, `user_id = ? AND id = ?`, userID, id)
}

func (r *repo) FindByListingID(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string) (*domain.Item, error) {
	return r.findOne(ctx, db, `user_id = ? AND listing_id = ?`, userID, listingID)
}

func (r *repo) FindByCustomSKU(ctx context.Context, db *gorm.DB, userID snowflake.ID, customSKU string) (*domain.Item, error) {
	return r.findOne(ctx, db, `user_id = ? AND custom_sku = ? AND custom_sku <> ''`, userID, customSKU)
}

func (r *repo) FindBySKU(ctx context.Context, db *gorm.DB, userID snowflake.ID, sku string) (*domain.Item, error) {
	return r.findOne(ctx, db, `user_id = ? AND sku = ? AND sku <> ''`, userID, sku)
}

func (r *repo) FindByTitleFold(ctx context.Context, db *gorm.DB, userID snowflake.ID, title string) (*domain.Item, error) {
	return r.findOne(ctx, db, `user_id = ? AND LOWER(title) = LOWER(?)`, userID, title)
}

func (r *repo) ListMatchable(ctx context.Context, db *gorm.DB, userID snowflake.ID, endedSince time.Time) ([]*domain.Item, error) {
	var items []*domain.Item
	err := db.WithContext(ctx).
		Model(&domain.Item{}).
		Where("user_id = ?", userID).
		Where("active = ? OR ended_at >= ?", true, endedSince).
		Order("updated_at desc, id desc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateRevisableFields(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string, title string, priceCents int64, quantity int, at time.Time) (int64, error) {
	// Revisions never touch the active flag: "ended" is monotonic and a stale
	// revise must not resurrect a closed listing.
	res := db.WithContext(ctx).Exec(
		`UPDATE items
		 SET title = ?, price_cents = ?, quantity = ?, last_synced_at = ?, updated_at = ?
		 WHERE user_id = ? AND listing_id = ?`,
		title, priceCents, quantity, at, at, userID, listingID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Reactivate(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string, title string, priceCents int64, quantity int, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE items
		 SET active = ?, ended_at = NULL, ended_reason = '', title = ?, price_cents = ?, quantity = ?, last_synced_at = ?, updated_at = ?
		 WHERE user_id = ? AND listing_id = ?`,
		true, title, priceCents, quantity, at, at, userID, listingID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, userID snowflake.ID, listingID string, reason domain.EndedReason, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE items
		 SET active = ?, ended_at = ?, ended_reason = ?, last_synced_at = ?, updated_at = ?
		 WHERE user_id = ? AND listing_id = ? AND active = ?`,
		false, at, reason, at, at, userID, listingID, true,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Relist(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, newListingID string, priceCents int64, at time.Time) (int64, error) {
	// Only an ended item can come back under a new listing id.
	res := db.WithContext(ctx).Exec(
		`UPDATE items
		 SET listing_id = ?, price_cents = ?, active = ?, ended_at = NULL,
		     ended_reason = '', last_synced_at = ?, updated_at = ?
		 WHERE user_id = ? AND id = ? AND active = ?`,
		newListingID, priceCents, true, at, at, userID, id, false,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) SetQuantity(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, quantity int, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE items SET quantity = ?, last_synced_at = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		quantity, at, at, userID, id,
	).Error
}

func (r *repo) DecrementQuantity(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, by int, at time.Time) (*domain.Item, error) {
	// Clamped at zero so concurrent redeliveries cannot drive it negative.
	err := db.WithContext(ctx).Exec(
		`UPDATE items
		 SET quantity = CASE WHEN quantity > ? THEN quantity - ? ELSE 0 END,
		     last_synced_at = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		by, by, at, at, userID, id,
	).Error
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, db, userID, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, cond string, args ...any) (*domain.Item, error) {
	var item domain.Item
	err := db.WithContext(ctx).
		Model(&domain.Item{}).
		Where(cond, args...).
		Order("updated_at desc, id desc").
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

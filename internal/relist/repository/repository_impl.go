package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/relist/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, rule *domain.AutoRelistRule) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO auto_relist_rules
			(id, user_id, item_id, enabled, cadence_days, run_immediately,
			 decay_type, decay_amount, floor_price_cents, next_run_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			cadence_days = EXCLUDED.cadence_days,
			run_immediately = EXCLUDED.run_immediately,
			decay_type = EXCLUDED.decay_type,
			decay_amount = EXCLUDED.decay_amount,
			floor_price_cents = EXCLUDED.floor_price_cents,
			next_run_at = EXCLUDED.next_run_at,
			updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.UserID, rule.ItemID, rule.Enabled, rule.CadenceDays,
		rule.RunImmediately, rule.DecayType, rule.DecayAmount,
		rule.FloorPriceCents, rule.NextRunAt, rule.CreatedAt, rule.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.AutoRelistRule, error) {
	var rule domain.AutoRelistRule
	err := db.WithContext(ctx).Raw(`
		SELECT * FROM auto_relist_rules WHERE id = ? AND user_id = ?`, id, userID,
	).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]*domain.AutoRelistRule, error) {
	var rows []*domain.AutoRelistRule
	err := db.WithContext(ctx).Raw(`
		SELECT * FROM auto_relist_rules WHERE user_id = ? ORDER BY created_at DESC`, userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.AutoRelistRule, error) {
	var rows []*domain.AutoRelistRule
	err := db.WithContext(ctx).Raw(`
		SELECT * FROM auto_relist_rules
		WHERE enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT ?`,
		true, now, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) SetNextRun(ctx context.Context, db *gorm.DB, id snowflake.ID, nextRunAt, at time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE auto_relist_rules SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		nextRunAt, at, id,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		DELETE FROM auto_relist_rules WHERE id = ? AND user_id = ?`, id, userID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, h *domain.RelistHistory) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO relist_history
			(id, rule_id, user_id, item_id, old_listing_id, new_listing_id,
			 old_price_cents, new_price_cents, outcome, failure_reason, ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.RuleID, h.UserID, h.ItemID, h.OldListingID, h.NewListingID,
		h.OldPriceCents, h.NewPriceCents, h.Outcome, h.FailureReason, h.RanAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, userID, ruleID snowflake.ID, limit int) ([]*domain.RelistHistory, error) {
	var rows []*domain.RelistHistory
	err := db.WithContext(ctx).Raw(`
		SELECT * FROM relist_history
		WHERE rule_id = ? AND user_id = ?
		ORDER BY ran_at DESC
		LIMIT ?`,
		ruleID, userID, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

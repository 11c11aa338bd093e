package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, rule *AutoRelistRule) error
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*AutoRelistRule, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]*AutoRelistRule, error)
	// ListDue returns enabled rules whose next run is at or before now.
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*AutoRelistRule, error)
	SetNextRun(ctx context.Context, db *gorm.DB, id snowflake.ID, nextRunAt, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (bool, error)
	InsertHistory(ctx context.Context, db *gorm.DB, h *RelistHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, userID, ruleID snowflake.ID, limit int) ([]*RelistHistory, error)
}

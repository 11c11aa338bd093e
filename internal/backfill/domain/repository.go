package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Watermark, error)
	Insert(ctx context.Context, db *gorm.DB, wm *Watermark) error
	Save(ctx context.Context, db *gorm.DB, wm *Watermark) error
	RequestAbort(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error)

	FindPollCursor(ctx context.Context, db *gorm.DB, userID snowflake.ID, topic string) (*PollCursor, error)
	UpsertPollCursor(ctx context.Context, db *gorm.DB, cursor *PollCursor) error
}

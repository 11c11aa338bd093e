package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, ev *RawEvent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RawEvent, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*RawEvent, error)
	IncrementDuplicate(ctx context.Context, db *gorm.DB, key string, at time.Time) error
	// Claim flips received to processing and reports whether this caller won
	// the row. A false return with nil error means another worker owns it or
	// it is already terminal.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	// Release returns a claimed row to received for another attempt, or to
	// failed when attempts are exhausted, recording the reason either way.
	Release(ctx context.Context, db *gorm.DB, id snowflake.ID, to Status, reason string, at time.Time) error
	// ResetStuck returns processing rows older than the cutoff to received.
	ResetStuck(ctx context.Context, db *gorm.DB, cutoff, at time.Time) (int64, error)
	ListByStatus(ctx context.Context, db *gorm.DB, status Status, limit int) ([]*RawEvent, error)
	ListFailed(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Pagination) ([]*RawEvent, error)
	// Replay flips a failed row back to received, clearing the failure.
	Replay(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) (bool, error)
}

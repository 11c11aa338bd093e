package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]*Subscription, error)
	// ListExpiring returns active subscriptions expiring before the cutoff,
	// across all users.
	ListExpiring(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]*Subscription, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) error
	// Renewed records a successful renewal with its new handle and expiry.
	Renewed(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, expiresAt, at time.Time) error
}

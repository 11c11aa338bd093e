package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// EnsureSubscriptions registers every required topic for the user,
	// skipping topics already active. Partial failure leaves the rest
	// registered.
	EnsureSubscriptions(ctx context.Context, userID snowflake.ID) error
	// RenewExpiring re-registers active subscriptions expiring within the
	// horizon. One subscription failing does not stop the batch.
	RenewExpiring(ctx context.Context, horizonDays int) (renewed int, err error)
	// Teardown removes the user's remote registrations. A registration the
	// marketplace no longer knows about counts as removed.
	Teardown(ctx context.Context, userID snowflake.ID) error
	List(ctx context.Context, userID snowflake.ID) ([]Subscription, error)
}

var (
	ErrNotFound  = errors.New("subscription_not_found")
	ErrInvalidID = errors.New("subscription_invalid_id")
)

package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Result reports one completed or interrupted run.
type Result struct {
	Status         Status `json:"status"`
	Windows        int    `json:"windows"`
	OrdersImported int    `json:"orders_imported"`
}

type Service interface {
	// Run scans order history backwards window by window until a stop
	// condition hits, recording every order as a sale. Safe to call again:
	// it resumes from the checkpoint.
	Run(ctx context.Context, userID snowflake.ID) (Result, error)
	Status(ctx context.Context, userID snowflake.ID) (*Watermark, error)
	// Abort requests a cooperative stop. The running scan finishes its
	// current window, then exits.
	Abort(ctx context.Context, userID snowflake.ID) error
}

var (
	ErrInvalidID      = errors.New("backfill_invalid_id")
	ErrAlreadyRunning = errors.New("backfill_already_running")
	ErrNotRunning     = errors.New("backfill_not_running")
)

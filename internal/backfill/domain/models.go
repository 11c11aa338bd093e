package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusScanning Status = "scanning"
	// StatusExhausted means the scan reached the end of the account's
	// history. Only this terminal state lets the next run start fresh from
	// the present.
	StatusExhausted Status = "exhausted"
	// StatusCapped means a per-run cap (windows or orders) stopped the scan
	// with history still unscanned. The next run resumes from WindowEnd.
	StatusCapped  Status = "capped"
	StatusAborted Status = "aborted"
)

// Watermark checkpoints one user's historical import. WindowEnd always moves
// backwards in time; a resumed run picks up from it instead of rescanning.
type Watermark struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID         snowflake.ID `json:"user_id" gorm:"uniqueIndex:idx_watermarks_user"`
	Status         Status       `json:"status"`
	WindowEnd      time.Time    `json:"window_end"`
	Windows        int          `json:"windows"`
	EmptyWindows   int          `json:"empty_windows"`
	OrdersImported int          `json:"orders_imported"`
	AbortRequested bool         `json:"abort_requested"`
	StartedAt      *time.Time   `json:"started_at"`
	FinishedAt     *time.Time   `json:"finished_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (Watermark) TableName() string {
	return "backfill_watermarks"
}

// PollCursor is the explicit per-(user, topic) watermark for the poll
// fallback. Each poll reads it, scans forward from it, and advances it only
// after the scan succeeds.
type PollCursor struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID       snowflake.ID `json:"user_id" gorm:"uniqueIndex:idx_poll_cursors_user_topic"`
	Topic        string       `json:"topic" gorm:"uniqueIndex:idx_poll_cursors_user_topic"`
	LastPolledAt time.Time    `json:"last_polled_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (PollCursor) TableName() string {
	return "poll_cursors"
}

package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/backfill/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Watermark, error) {
	var wm domain.Watermark
	err := db.WithContext(ctx).Raw(`SELECT * FROM backfill_watermarks WHERE user_id = ?`, userID).First(&wm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wm, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, wm *domain.Watermark) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO backfill_watermarks
			(id, user_id, status, window_end, windows, empty_windows,
			 orders_imported, abort_requested, started_at, finished_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wm.ID, wm.UserID, wm.Status, wm.WindowEnd, wm.Windows, wm.EmptyWindows,
		wm.OrdersImported, wm.AbortRequested, wm.StartedAt, wm.FinishedAt, wm.UpdatedAt,
	).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, wm *domain.Watermark) error {
	return db.WithContext(ctx).Exec(`
		UPDATE backfill_watermarks
		SET status = ?, window_end = ?, windows = ?, empty_windows = ?,
		    orders_imported = ?, abort_requested = ?, started_at = ?,
		    finished_at = ?, updated_at = ?
		WHERE user_id = ?`,
		wm.Status, wm.WindowEnd, wm.Windows, wm.EmptyWindows,
		wm.OrdersImported, wm.AbortRequested, wm.StartedAt, wm.FinishedAt,
		wm.UpdatedAt, wm.UserID,
	).Error
}

func (r *repo) RequestAbort(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE backfill_watermarks
		SET abort_requested = ?
		WHERE user_id = ? AND status = ?`,
		true, userID, domain.StatusScanning,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPollCursor(ctx context.Context, db *gorm.DB, userID snowflake.ID, topic string) (*domain.PollCursor, error) {
	var cursor domain.PollCursor
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM poll_cursors WHERE user_id = ? AND topic = ?`, userID, topic,
	).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *repo) UpsertPollCursor(ctx context.Context, db *gorm.DB, cursor *domain.PollCursor) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO poll_cursors (id, user_id, topic, last_polled_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, topic) DO UPDATE SET last_polled_at = ?, updated_at = ?`,
		cursor.ID, cursor.UserID, cursor.Topic, cursor.LastPolledAt, cursor.UpdatedAt,
		cursor.LastPolledAt, cursor.UpdatedAt,
	).Error
}

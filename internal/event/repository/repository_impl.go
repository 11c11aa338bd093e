package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/event/domain"
	"github.com/shelfsync/shelfsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, ev *domain.RawEvent) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO raw_events
			(id, user_id, topic, source, external_id, idempotency_key, payload,
			 status, duplicate_count, attempts, failure_reason, received_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.Topic, ev.Source, ev.ExternalID, ev.IdempotencyKey,
		ev.Payload, ev.Status, ev.FailureReason, ev.ReceivedAt, ev.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.RawEvent, error) {
	var ev domain.RawEvent
	err := db.WithContext(ctx).Raw(`SELECT * FROM raw_events WHERE id = ?`, id).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.RawEvent, error) {
	var ev domain.RawEvent
	err := db.WithContext(ctx).Raw(`SELECT * FROM raw_events WHERE idempotency_key = ?`, key).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *repo) IncrementDuplicate(ctx context.Context, db *gorm.DB, key string, at time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE raw_events
		SET duplicate_count = duplicate_count + 1, updated_at = ?
		WHERE idempotency_key = ?`,
		at, key,
	).Error
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE raw_events
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusProcessing, at, id, domain.StatusReceived,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE raw_events
		SET status = ?, processed_at = ?, failure_reason = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusProcessed, at, at, id, domain.StatusProcessing,
	).Error
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, id snowflake.ID, to domain.Status, reason string, at time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE raw_events
		SET status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, reason, at, id, domain.StatusProcessing,
	).Error
}

func (r *repo) ResetStuck(ctx context.Context, db *gorm.DB, cutoff, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE raw_events
		SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		domain.StatusReceived, at, domain.StatusProcessing, cutoff,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, status domain.Status, limit int) ([]*domain.RawEvent, error) {
	var rows []*domain.RawEvent
	err := db.WithContext(ctx).Raw(`
		SELECT * FROM raw_events
		WHERE status = ?
		ORDER BY received_at ASC
		LIMIT ?`,
		status, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListFailed(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Pagination) ([]*domain.RawEvent, error) {
	query := `SELECT * FROM raw_events WHERE user_id = ? AND status = ?`
	args := []any{userID, domain.StatusFailed}

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		query += ` AND id < ?`
		args = append(args, cursor.ID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, page.PageSize+1)

	var rows []*domain.RawEvent
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Replay(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE raw_events
		SET status = ?, failure_reason = '', attempts = 0, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		domain.StatusReceived, at, id, userID, domain.StatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

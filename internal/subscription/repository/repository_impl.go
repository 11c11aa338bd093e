package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO subscriptions
			(id, user_id, topic, external_id, destination_url, protocol, status,
			 expires_at, last_renewed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, topic) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			destination_url = EXCLUDED.destination_url,
			protocol = EXCLUDED.protocol,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.UserID, sub.Topic, sub.ExternalID, sub.DestinationURL,
		sub.Protocol, sub.Status, sub.ExpiresAt, sub.LastRenewedAt,
		sub.CreatedAt, sub.UpdatedAt,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]*domain.Subscription, error) {
	var rows []*domain.Subscription
	err := db.WithContext(ctx).Raw(`
		SELECT * FROM subscriptions WHERE user_id = ? ORDER BY topic ASC`, userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListExpiring(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]*domain.Subscription, error) {
	var rows []*domain.Subscription
	err := db.WithContext(ctx).Raw(`
		SELECT * FROM subscriptions
		WHERE status = ? AND expires_at < ?
		ORDER BY expires_at ASC`,
		domain.StatusActive, cutoff,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	).Error
}

func (r *repo) Renewed(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, expiresAt, at time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE subscriptions
		SET external_id = ?, status = ?, expires_at = ?, last_renewed_at = ?, updated_at = ?
		WHERE id = ?`,
		externalID, domain.StatusActive, expiresAt, at, at, id,
	).Error
}

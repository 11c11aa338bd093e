package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/notify/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &service{db: p.DB, log: p.Log.Named("notify"), genID: p.GenID, clock: p.Clock}
}

func (s *service) Emit(ctx context.Context, userID snowflake.ID, kind domain.Kind, title, body string) error {
	n := domain.Notification{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: s.clock.Now(),
	}
	err := s.db.WithContext(ctx).
		Exec(`INSERT INTO notifications (id, user_id, kind, title, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, n.UserID, n.Kind, n.Title, n.Body, n.CreatedAt).Error
	if err != nil {
		s.log.Error("emit notification", zap.String("kind", string(kind)), zap.Error(err))
	}
	return err
}

func (s *service) List(ctx context.Context, userID snowflake.ID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT * FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var rows []domain.Notification
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) MarkRead(ctx context.Context, userID, id snowflake.ID) error {
	res := s.db.WithContext(ctx).
		Exec(`UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ? AND read_at IS NULL`,
			s.clock.Now(), id, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

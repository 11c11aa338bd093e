package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/internal/clock"
	"github.com/shelfsync/shelfsync/internal/event/domain"
	"github.com/shelfsync/shelfsync/internal/event/queue"
	"github.com/shelfsync/shelfsync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Queue *queue.Queue
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	queue *queue.Queue
}

func New(p Params) domain.Service {
	return &service{db: p.DB, log: p.Log.Named("event"), clock: p.Clock, repo: p.Repo, queue: p.Queue}
}

func (s *service) ListFailed(ctx context.Context, req domain.ListFailedRequest) (domain.ListFailedResponse, error) {
	if req.UserID == 0 {
		return domain.ListFailedResponse{}, domain.ErrInvalidID
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	rows, err := s.repo.ListFailed(ctx, s.db, req.UserID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListFailedResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, pageSize, func(ev *domain.RawEvent) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: ev.ID.String()})
		return token
	})
	if len(rows) > int(pageSize) {
		rows = rows[:pageSize]
	}

	events := make([]domain.RawEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, *row)
	}
	return domain.ListFailedResponse{PageInfo: *pageInfo, Events: events}, nil
}

func (s *service) Replay(ctx context.Context, userID, eventID snowflake.ID) error {
	flipped, err := s.repo.Replay(ctx, s.db, userID, eventID, s.clock.Now())
	if err != nil {
		return err
	}
	if !flipped {
		return domain.ErrNotFound
	}
	s.queue.Enqueue(eventID)
	return nil
}

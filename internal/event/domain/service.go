package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shelfsync/shelfsync/pkg/db/pagination"
)

type ListFailedRequest struct {
	UserID    snowflake.ID
	PageToken string
	PageSize  int32
}

type ListFailedResponse struct {
	pagination.PageInfo
	Events []RawEvent `json:"events"`
}

// Service is the read/replay surface over stored events. Ingestion goes
// through the queue, not here.
type Service interface {
	ListFailed(ctx context.Context, req ListFailedRequest) (ListFailedResponse, error)
	Replay(ctx context.Context, userID, eventID snowflake.ID) error
}

var (
	ErrNotFound  = errors.New("event_not_found")
	ErrInvalidID = errors.New("event_invalid_id")
)

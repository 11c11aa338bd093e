package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Emit(ctx context.Context, userID snowflake.ID, kind Kind, title, body string) error
	List(ctx context.Context, userID snowflake.ID, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id snowflake.ID) error
}

var ErrNotFound = errors.New("notification_not_found")

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	backfilldomain "github.com/shelfsync/shelfsync/internal/backfill/domain"
	"github.com/shelfsync/shelfsync/internal/credential"
	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	notifydomain "github.com/shelfsync/shelfsync/internal/notify/domain"
	relistdomain "github.com/shelfsync/shelfsync/internal/relist/domain"
	saledomain "github.com/shelfsync/shelfsync/internal/sale/domain"
	subscriptiondomain "github.com/shelfsync/shelfsync/internal/subscription/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not_found")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, credential.ErrNotConnected),
		errors.Is(err, credential.ErrReconnectRequired):
		return http.StatusUnauthorized, errorPayload{
			Type:    "not_connected",
			Message: err.Error(),
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, backfilldomain.ErrAlreadyRunning):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, saledomain.ErrInvalidOrder),
		errors.Is(err, saledomain.ErrInvalidID),
		errors.Is(err, saledomain.ErrStaleTransition),
		errors.Is(err, eventdomain.ErrInvalidID),
		errors.Is(err, inventorydomain.ErrInvalidListing),
		errors.Is(err, relistdomain.ErrInvalidRule),
		errors.Is(err, relistdomain.ErrItemNotEnded),
		errors.Is(err, subscriptiondomain.ErrInvalidID),
		errors.Is(err, backfilldomain.ErrInvalidID),
		errors.Is(err, backfilldomain.ErrNotRunning):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, saledomain.ErrNotFound),
		errors.Is(err, eventdomain.ErrNotFound),
		errors.Is(err, inventorydomain.ErrNotFound),
		errors.Is(err, notifydomain.ErrNotFound),
		errors.Is(err, relistdomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound):
		return true
	default:
		return false
	}
}

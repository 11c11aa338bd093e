package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
)

func (s *Server) handleListFailedEvents(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	pageSize := 10
	if raw := c.Query("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 250 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		pageSize = n
	}

	resp, err := s.eventSvc.ListFailed(c.Request.Context(), eventdomain.ListFailedRequest{
		UserID:    userID,
		PageToken: c.Query("page_token"),
		PageSize:  int32(pageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReplayEvent(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return
	}

	if err := s.eventSvc.Replay(c.Request.Context(), userID, eventID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "replaying"})
}

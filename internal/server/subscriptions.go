package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListSubscriptions(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	subs, err := s.subscriptionSvc.List(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (s *Server) handleEnsureSubscriptions(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	if err := s.subscriptionSvc.EnsureSubscriptions(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (s *Server) handleListNotifications(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	unreadOnly := c.Query("unread") == "true"
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = n
	}

	notifications, err := s.notifySvc.List(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (s *Server) handleMarkNotificationRead(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	notificationID, ok := parseID(c, "notification_id")
	if !ok {
		return
	}
	if err := s.notifySvc.MarkRead(c.Request.Context(), userID, notificationID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shelfsync/shelfsync/internal/credential"
	"go.uber.org/zap"
)

type connectRequest struct {
	AccessToken  string    `json:"access_token" binding:"required"`
	RefreshToken string    `json:"refresh_token" binding:"required"`
	ExpiresAt    time.Time `json:"expires_at" binding:"required"`
}

// handleConnect stores the user's marketplace credential and registers the
// push subscriptions in one step.
func (s *Server) handleConnect(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.vault.Put(c.Request.Context(), userID, credential.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.subscriptionSvc.EnsureSubscriptions(c.Request.Context(), userID); err != nil {
		// The credential is stored; subscriptions retry on the next ensure.
		s.log.Warn("subscription setup incomplete after connect",
			zap.String("user_id", userID.String()), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "connected", "subscriptions": "pending"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "connected", "subscriptions": "active"})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	// Teardown first while the credential can still authorize remote deletes.
	if err := s.subscriptionSvc.Teardown(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.vault.Delete(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	backfilldomain "github.com/shelfsync/shelfsync/internal/backfill/domain"
	"go.uber.org/zap"
)

// handleStartBackfill kicks the scan off in the background and returns
// immediately; progress is visible via the status endpoint.
func (s *Server) handleStartBackfill(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	wm, err := s.backfillSvc.Status(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if wm != nil && wm.Status == backfilldomain.StatusScanning {
		AbortWithError(c, backfilldomain.ErrAlreadyRunning)
		return
	}

	go func() {
		result, err := s.backfillSvc.Run(context.Background(), userID)
		if err != nil {
			s.log.Warn("backfill run ended with error",
				zap.String("user_id", userID.String()), zap.Error(err))
			return
		}
		s.log.Info("backfill run finished",
			zap.String("user_id", userID.String()),
			zap.String("status", string(result.Status)),
			zap.Int("windows", result.Windows),
			zap.Int("orders_imported", result.OrdersImported),
		)
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) handleBackfillStatus(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	wm, err := s.backfillSvc.Status(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if wm == nil {
		c.JSON(http.StatusOK, gin.H{"status": string(backfilldomain.StatusIdle)})
		return
	}
	c.JSON(http.StatusOK, wm)
}

func (s *Server) handleAbortBackfill(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	if err := s.backfillSvc.Abort(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "aborting"})
}

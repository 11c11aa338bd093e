package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
	"github.com/shelfsync/shelfsync/internal/event/queue"
	"github.com/shelfsync/shelfsync/internal/webhook"
	"go.uber.org/zap"
)

// maxWebhookBody caps what we read from the marketplace before parsing.
const maxWebhookBody = 1 << 20

// handleJSONHandshake answers the endpoint validation sent when a JSON
// subscription is created. The marketplace only checks that its challenge
// code comes back verbatim, inside the marketplace's timeout.
func (s *Server) handleJSONHandshake(c *gin.Context) {
	challenge := c.Query("challenge_code")
	if challenge == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challengeResponse": challenge})
}

// handlePlatformHandshake answers the legacy transport's validation request,
// which only echoes the shared verification token back.
func (s *Server) handlePlatformHandshake(c *gin.Context) {
	if c.Query("verification_token") != s.cfg.Marketplace.VerificationToken {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verificationToken": s.cfg.Marketplace.VerificationToken,
	})
}

func (s *Server) handleJSONWebhook(c *gin.Context) {
	s.ingestWebhook(c, eventdomain.SourcePushJSON, webhook.ParseJSON)
}

func (s *Server) handlePlatformWebhook(c *gin.Context) {
	s.ingestWebhook(c, eventdomain.SourcePushXML, webhook.ParseXML)
}

// ingestWebhook always acks. A delivery we cannot parse or store is logged
// and kept as a failed event when possible; bouncing it back just makes the
// marketplace hammer a payload that will never improve.
func (s *Server) ingestWebhook(c *gin.Context, source eventdomain.Source, parse func([]byte) (webhook.Notification, error)) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.log.Warn("webhook body read failed", zap.String("source", string(source)), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
		return
	}

	n, err := parse(body)
	if err != nil {
		s.log.Warn("webhook parse failed", zap.String("source", string(source)), zap.Error(err))
		if rerr := s.queue.RecordMalformed(c.Request.Context(), n.UserID, source, body, err.Error()); rerr != nil {
			s.log.Error("record malformed webhook", zap.Error(rerr))
		}
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
		return
	}

	outcome, _, err := s.queue.Ingest(c.Request.Context(), queue.IngestRequest{
		UserID:     n.UserID,
		Topic:      n.Topic,
		Source:     source,
		ExternalID: n.ExternalID,
		Payload:    n.Payload,
	})
	if err != nil {
		s.log.Error("webhook ingest failed",
			zap.String("source", string(source)),
			zap.String("topic", string(n.Topic)),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}

package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	relistdomain "github.com/shelfsync/shelfsync/internal/relist/domain"
)

type upsertRelistRuleRequest struct {
	ItemID          string `json:"item_id" binding:"required"`
	Enabled         bool   `json:"enabled"`
	CadenceDays     int    `json:"cadence_days"`
	RunImmediately  bool   `json:"run_immediately"`
	DecayType       string `json:"decay_type"`
	DecayAmount     int64  `json:"decay_amount"`
	FloorPriceCents int64  `json:"floor_price_cents"`
}

func (s *Server) handleUpsertRelistRule(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	var req upsertRelistRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	itemID, err := snowflake.ParseString(req.ItemID)
	if err != nil || itemID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	decay := relistdomain.DecayType(req.DecayType)
	if req.DecayType == "" {
		decay = relistdomain.DecayNone
	}

	rule, err := s.relistSvc.UpsertRule(c.Request.Context(), relistdomain.UpsertRuleRequest{
		UserID:          userID,
		ItemID:          itemID,
		Enabled:         req.Enabled,
		CadenceDays:     req.CadenceDays,
		RunImmediately:  req.RunImmediately,
		DecayType:       decay,
		DecayAmount:     req.DecayAmount,
		FloorPriceCents: req.FloorPriceCents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleListRelistRules(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	rules, err := s.relistSvc.ListRules(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) handleDeleteRelistRule(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	ruleID, ok := parseID(c, "rule_id")
	if !ok {
		return
	}
	if err := s.relistSvc.DeleteRule(c.Request.Context(), userID, ruleID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleRelistHistory(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	ruleID, ok := parseID(c, "rule_id")
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = n
	}

	history, err := s.relistSvc.History(c.Request.Context(), userID, ruleID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

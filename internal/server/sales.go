package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	saledomain "github.com/shelfsync/shelfsync/internal/sale/domain"
)

func (s *Server) handleGetItem(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	item, err := s.inventorySvc.GetByListingID(c.Request.Context(), userID, c.Param("listing_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleListOrphanSales(c *gin.Context) {
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

	resp, err := s.saleSvc.ListOrphans(c.Request.Context(), saledomain.ListOrphansRequest{
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

func (s *Server) handleRematchSale(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	saleID, ok := parseID(c, "sale_id")
	if !ok {
		return
	}

	outcome, err := s.saleSvc.Rematch(c.Request.Context(), userID, saleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matched":  outcome.Matched,
		"strategy": outcome.Strategy,
		"sale":     outcome.Sale,
	})
}

func (s *Server) handleRematchAll(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	matched, err := s.saleSvc.RematchAll(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": matched})
}

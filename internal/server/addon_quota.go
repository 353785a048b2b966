package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	addondomain "github.com/smallbiznis/paymatch/internal/addon/domain"
)

type consumeQuotaRequest struct {
	Action string `json:"action" binding:"required,oneof=generation validation"`
}

func (s *Server) GetAddonQuota(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))

	summary, err := s.addons.Quota(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) ConsumeAddonQuota(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))

	var req consumeQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	result, err := s.addons.Consume(c.Request.Context(), userID, addondomain.Action(req.Action))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListAddonPurchases(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))

	purchases, err := s.addons.ListPurchases(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if purchases == nil {
		purchases = []addondomain.Purchase{}
	}

	c.JSON(http.StatusOK, gin.H{"data": purchases})
}

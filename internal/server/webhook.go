package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paymatch/internal/webhook"
)

const maxWebhookBody = 1 << 20

func (s *Server) HandleSePayWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	summary, err := s.gateway.Handle(c.Request.Context(), webhook.RequestFromHeaders(c.Request.Header, body))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

package server

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paymatch/internal/providers/pdf"
	reconciliationdomain "github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	subscriptiondomain "github.com/smallbiznis/paymatch/internal/subscription/domain"
	"github.com/smallbiznis/paymatch/pkg/db/pagination"
	"go.uber.org/zap"
)

const receiptDateLayout = "2006-01-02 15:04 MST"

func (s *Server) ListTransactions(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	result, err := s.reconciler.List(c.Request.Context(), reconciliationdomain.ListRequest{
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      result.Items,
		"page_info": result.PageInfo,
	})
}

func (s *Server) GetTransaction(c *gin.Context) {
	item, err := s.reconciler.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

// GetTransactionReceipt renders a PDF receipt for a transaction that produced an effect.
func (s *Server) GetTransactionReceipt(c *gin.Context) {
	ctx := c.Request.Context()

	item, err := s.reconciler.Lookup(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if item.Outcome != reconciliationdomain.OutcomeActivated {
		AbortWithError(c, ErrNotFound)
		return
	}

	data := pdf.ReceiptData{
		MerchantName:  s.cfg.AppName,
		TransactionID: item.TransactionID,
		CustomerName:  item.ActorID,
		Description:   receiptDescription(item),
		Amount:        humanize.Comma(item.Amount),
		PaidAt:        item.OccurredAt.Format(receiptDateLayout),
		Memo:          item.RawMemo,
	}
	if s.users != nil {
		user, err := s.users.FindUser(ctx, item.ActorID)
		switch {
		case err == nil:
			if name := strings.TrimSpace(user.Name); name != "" {
				data.CustomerName = name
			}
			data.CustomerEmail = user.Email
			if end := user.CurrentPeriodEnd(); end != nil {
				data.ValidUntil = end.Format("2006-01-02")
			}
		case errors.Is(err, subscriptiondomain.ErrUserNotFound):
		default:
			AbortWithError(c, err)
			return
		}
	}

	reader, err := s.receipts.GenerateReceipt(ctx, data)
	if err != nil {
		s.log.Error("render receipt", zap.String("transaction_id", item.TransactionID), zap.Error(err))
		AbortWithError(c, err)
		return
	}
	if reader == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", receiptDisposition(item.TransactionID))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func receiptDisposition(transactionID string) string {
	value := mime.FormatMediaType("inline", map[string]string{"filename": "receipt-" + transactionID + ".pdf"})
	if value == "" {
		return `inline; filename="receipt.pdf"`
	}
	return value
}

func receiptDescription(item *reconciliationdomain.ProcessedTransaction) string {
	switch item.Kind {
	case reconciliationdomain.KindSubscription:
		return "Subscription plan " + item.ReferenceID
	case reconciliationdomain.KindAddon:
		return "Add-on package " + item.ReferenceID
	default:
		return "Payment " + item.TransactionID
	}
}

package pdf

import (
	"context"
	"io"
)

// ReceiptData is the printable view of one reconciled payment.
type ReceiptData struct {
	MerchantName  string
	TransactionID string
	CustomerName  string
	CustomerEmail string
	Description   string
	Amount        string
	PaidAt        string
	ValidUntil    string
	Memo          string
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	return nil, nil
}

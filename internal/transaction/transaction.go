package transaction

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
	ErrSourceNotConfigured = errors.New("transaction_source_not_configured")
)

// ExternalTransaction is one incoming bank transfer as reported upstream.
// Amount is in minor currency units.
type ExternalTransaction struct {
	ID         string    `json:"id"`
	Amount     int64     `json:"amount"`
	Memo       string    `json:"memo"`
	OccurredAt time.Time `json:"occurred_at"`
}

type ListOptions struct {
	AccountNumber string
	Limit         int
}

// Source lists recent transactions. Implementations are read-only.
type Source interface {
	ListTransactions(ctx context.Context, opts ListOptions) ([]ExternalTransaction, error)
}

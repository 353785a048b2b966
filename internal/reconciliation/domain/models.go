package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymatch/internal/transaction"
	"github.com/smallbiznis/paymatch/pkg/db/pagination"
	"gorm.io/gorm"
)

type Outcome string

const (
	OutcomeActivated        Outcome = "activated"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeClaimed is the provisional value written by the claim and
	// replaced before the surrounding transaction commits.
	OutcomeClaimed Outcome = "claimed"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourceScanner Source = "scanner"
	SourceManual  Source = "manual"
)

type Kind string

const (
	KindUnrelated    Kind = "unrelated"
	KindSubscription Kind = "subscription"
	KindAddon        Kind = "addon"
)

// Reason classifies what a pass did with one transaction.
type Reason string

const (
	ReasonUnrelated        Reason = "unrelated"
	ReasonExtractionFailed Reason = "extraction_failed"
	ReasonCatalogNotFound  Reason = "catalog_not_found"
	ReasonUserNotFound     Reason = "user_not_found"
	ReasonAmountMismatch   Reason = "amount_mismatch"
	ReasonActivationNoop   Reason = "activation_noop"
	ReasonAlreadyProcessed Reason = "already_processed"
	ReasonLegacyPurchase   Reason = "legacy_purchase"
	ReasonActivated        Reason = "activated"
	ReasonError            Reason = "error"
)

// Terminal reports whether a ledger row exists for the reason.
func (r Reason) Terminal() bool {
	switch r {
	case ReasonAmountMismatch, ReasonActivationNoop, ReasonAlreadyProcessed, ReasonLegacyPurchase, ReasonActivated:
		return true
	}
	return false
}

var (
	ErrNotFound         = errors.New("processed_transaction_not_found")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidSource    = errors.New("invalid_source")

	ErrUpstreamUnavailable = transaction.ErrUpstreamUnavailable
)

// ProcessedTransaction is the idempotency ledger row. TransactionID is unique.
type ProcessedTransaction struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	TransactionID string       `json:"transaction_id"`
	Source        Source       `json:"source"`
	Kind          Kind         `json:"kind"`
	ActorID       string       `json:"actor_id"`
	ReferenceID   string       `json:"reference_id"`
	Amount        int64        `json:"amount"`
	RawMemo       string       `json:"raw_memo"`
	Outcome       Outcome      `json:"outcome"`
	Note          string       `json:"note,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
	ProcessedAt   time.Time    `json:"processed_at"`
}

func (ProcessedTransaction) TableName() string { return "processed_transactions" }

type TransactionResult struct {
	TransactionID string  `json:"transaction_id"`
	Kind          Kind    `json:"kind"`
	ActorID       string  `json:"actor_id,omitempty"`
	ReferenceID   string  `json:"reference_id,omitempty"`
	Amount        int64   `json:"amount"`
	Reason        Reason  `json:"reason"`
	Outcome       Outcome `json:"outcome,omitempty"`
}

type PassRequest struct {
	Source Source
	Since  time.Time
	Limit  int
}

type PassSummary struct {
	RunID            string              `json:"run_id"`
	Source           Source              `json:"source"`
	Fetched          int                 `json:"fetched"`
	Considered       int                 `json:"considered"`
	Matched          int                 `json:"matched"`
	Activated        int                 `json:"activated"`
	Skipped          int                 `json:"skipped"`
	AlreadyProcessed int                 `json:"already_processed"`
	Ignored          int                 `json:"ignored"`
	Failed           int                 `json:"failed"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       time.Time           `json:"finished_at"`
	Results          []TransactionResult `json:"results"`
}

// Add folds one result into the counters.
func (s *PassSummary) Add(r TransactionResult) {
	s.Considered++
	s.Results = append(s.Results, r)
	switch r.Reason {
	case ReasonActivated:
		s.Matched++
		s.Activated++
	case ReasonAmountMismatch, ReasonActivationNoop:
		s.Matched++
		s.Skipped++
	case ReasonAlreadyProcessed, ReasonLegacyPurchase:
		s.Matched++
		s.AlreadyProcessed++
	case ReasonError:
		s.Failed++
	default:
		s.Ignored++
	}
}

type ListRequest struct {
	PageToken string
	PageSize  int
}

type ListResult struct {
	Items    []ProcessedTransaction `json:"items"`
	PageInfo pagination.PageInfo    `json:"page_info"`
}

// ListFilter selects ledger rows strictly older than the cursor position.
type ListFilter struct {
	BeforeProcessedAt *time.Time
	BeforeID          snowflake.ID
	Limit             int
}

type Repository interface {
	Claim(ctx context.Context, db *gorm.DB, record *ProcessedTransaction) (bool, error)
	UpdateOutcome(ctx context.Context, db *gorm.DB, transactionID string, outcome Outcome, note string) error
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*ProcessedTransaction, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]ProcessedTransaction, error)
}

type Service interface {
	RunPass(ctx context.Context, req PassRequest) (PassSummary, error)
	ProcessTransaction(ctx context.Context, source Source, tx transaction.ExternalTransaction) TransactionResult
	Lookup(ctx context.Context, transactionID string) (*ProcessedTransaction, error)
	List(ctx context.Context, req ListRequest) (ListResult, error)
}

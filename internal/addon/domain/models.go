package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/paymatch/internal/catalog/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PurchaseStatus string

const (
	PurchaseStatusActive   PurchaseStatus = "active"
	PurchaseStatusDepleted PurchaseStatus = "depleted"
	PurchaseStatusExpired  PurchaseStatus = "expired"
)

// Action is a quota-consuming operation.
type Action string

const (
	ActionGeneration Action = "generation"
	ActionValidation Action = "validation"
)

var (
	ErrInvalidAction  = errors.New("invalid_action")
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidPackage = errors.New("invalid_package")

	// ErrConsumeContended means every attempt lost its race to concurrent
	// consumers. Quota may remain, so callers should retry.
	ErrConsumeContended = errors.New("consume_contended")
)

// PackageSnapshot freezes the catalog entry as it was when purchased.
type PackageSnapshot struct {
	Name                  string `json:"name"`
	Price                 int64  `json:"price"`
	AdditionalGenerations int    `json:"additional_generations"`
	AdditionalValidations int    `json:"additional_validations"`
}

func SnapshotOf(pkg catalogdomain.AddonPackage) PackageSnapshot {
	return PackageSnapshot{
		Name:                  pkg.Name,
		Price:                 pkg.Price,
		AdditionalGenerations: pkg.AdditionalGenerations,
		AdditionalValidations: pkg.AdditionalValidations,
	}
}

type Purchase struct {
	ID                   snowflake.ID                        `json:"id" gorm:"primaryKey"`
	UserID               string                              `json:"user_id"`
	AddonPackageID       string                              `json:"addon_package_id"`
	PackageSnapshot      datatypes.JSONType[PackageSnapshot] `json:"package_snapshot"`
	RemainingGenerations int                                 `json:"remaining_generations"`
	RemainingValidations int                                 `json:"remaining_validations"`
	Status               PurchaseStatus                      `json:"status"`
	PurchaseDate         time.Time                           `json:"purchase_date"`
	ExpiryDate           *time.Time                          `json:"expiry_date,omitempty"`
	PaymentReference     string                              `json:"payment_reference"`
	AmountPaid           int64                               `json:"amount_paid"`
	CreatedAt            time.Time                           `json:"created_at"`
	UpdatedAt            time.Time                           `json:"updated_at"`
}

func (Purchase) TableName() string { return "addon_purchases" }

type GrantRequest struct {
	UserID        string
	Package       catalogdomain.AddonPackage
	TransactionID string
	AmountPaid    int64
	ExpiryDate    *time.Time
}

type ConsumeResult struct {
	Consumed   bool         `json:"consumed"`
	PurchaseID snowflake.ID `json:"purchase_id,omitempty"`
}

type QuotaSummary struct {
	UserID               string `json:"user_id"`
	RemainingGenerations int64  `json:"remaining_generations"`
	RemainingValidations int64  `json:"remaining_validations"`
	ActivePurchases      int64  `json:"active_purchases"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	ExistsByPaymentReference(ctx context.Context, db *gorm.DB, reference string) (bool, error)
	OldestConsumable(ctx context.Context, db *gorm.DB, userID string, column string, now time.Time) (*Purchase, error)
	Decrement(ctx context.Context, db *gorm.DB, id snowflake.ID, column string, now time.Time) (bool, error)
	MarkDepletedIfEmpty(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	SumRemaining(ctx context.Context, db *gorm.DB, userID string, now time.Time) (QuotaSummary, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]Purchase, error)
	ExpireDue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

// Ledger grants and consumes add-on quota.
type Ledger interface {
	Grant(ctx context.Context, db *gorm.DB, req GrantRequest) (*Purchase, error)
	HasPurchaseForReference(ctx context.Context, db *gorm.DB, reference string) (bool, error)
	Consume(ctx context.Context, userID string, action Action) (ConsumeResult, error)
	Quota(ctx context.Context, userID string) (QuotaSummary, error)
	ListPurchases(ctx context.Context, userID string) ([]Purchase, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

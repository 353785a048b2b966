// Package domain holds the user account subset that reconciliation mutates.
package domain

import (
	"context"
	"errors"
	"time"

	catalogdomain "github.com/smallbiznis/paymatch/internal/catalog/domain"
	"gorm.io/gorm"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var (
	ErrUserNotFound        = errors.New("user_not_found")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
)

type UserAccount struct {
	ID                      string     `json:"id" gorm:"primaryKey;type:text"`
	Email                   string     `json:"email"`
	Name                    string     `json:"name"`
	SubscriptionStatus      Status     `json:"subscription_status"`
	SubscriptionPlanID      *string    `json:"subscription_plan_id,omitempty"`
	SubscriptionRenewalDate *time.Time `json:"subscription_renewal_date,omitempty"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func (UserAccount) TableName() string { return "users" }

// CurrentPeriodEnd returns the end of the paid period for an active account.
func (u UserAccount) CurrentPeriodEnd() *time.Time {
	if u.SubscriptionStatus != StatusActive || u.SubscriptionRenewalDate == nil {
		return nil
	}
	end := u.SubscriptionRenewalDate.UTC()
	return &end
}

type ActivationResult string

const (
	ActivationActivated ActivationResult = "activated"
	ActivationNoop      ActivationResult = "noop"
)

type Activation struct {
	Result      ActivationResult
	RenewalDate time.Time
}

type Repository interface {
	FindUser(ctx context.Context, db *gorm.DB, id string) (*UserAccount, error)
	ActivateIfNone(ctx context.Context, db *gorm.DB, id string, planID string, renewal time.Time, now time.Time) (bool, error)
}

// Activator applies the one-time None to Active transition. Callers pass the
// transaction handle so activation commits with the ledger claim.
type Activator interface {
	FindUser(ctx context.Context, id string) (*UserAccount, error)
	Activate(ctx context.Context, db *gorm.DB, userID string, plan catalogdomain.SubscriptionPlan) (Activation, error)
}

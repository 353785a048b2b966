package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

var (
	ErrNotFound        = errors.New("catalog_not_found")
	ErrAmbiguousPrefix = errors.New("catalog_ambiguous_prefix")
)

type SubscriptionPlan struct {
	ID           string       `json:"id" gorm:"primaryKey;type:text"`
	Name         string       `json:"name"`
	BillingCycle BillingCycle `json:"billing_cycle"`
	Price        int64        `json:"price"`
	Status       Status       `json:"status"`
}

func (SubscriptionPlan) TableName() string { return "subscription_plans" }

func (p SubscriptionPlan) CatalogID() string   { return p.ID }
func (p SubscriptionPlan) CatalogPrice() int64 { return p.Price }

type AddonPackage struct {
	ID                    string `json:"id" gorm:"primaryKey;type:text"`
	Name                  string `json:"name"`
	Price                 int64  `json:"price"`
	AdditionalGenerations int    `json:"additional_generations"`
	AdditionalValidations int    `json:"additional_validations"`
	Status                Status `json:"status"`
}

func (AddonPackage) TableName() string { return "addon_packages" }

func (a AddonPackage) CatalogID() string   { return a.ID }
func (a AddonPackage) CatalogPrice() int64 { return a.Price }

// Entry is the part of a catalog item the resolver matches on.
type Entry interface {
	CatalogID() string
	CatalogPrice() int64
}

type Repository interface {
	ListActivePlans(ctx context.Context, db *gorm.DB) ([]SubscriptionPlan, error)
	ListActiveAddons(ctx context.Context, db *gorm.DB) ([]AddonPackage, error)
}

type Resolver interface {
	ResolvePlan(ctx context.Context, id string, amount int64) (*SubscriptionPlan, error)
	ResolveAddon(ctx context.Context, id string, amount int64) (*AddonPackage, error)
	Invalidate()
}

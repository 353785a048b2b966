package repository

import (
	"context"

	"github.com/smallbiznis/paymatch/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListActivePlans(ctx context.Context, db *gorm.DB) ([]domain.SubscriptionPlan, error) {
	var items []domain.SubscriptionPlan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, billing_cycle, price, status
		 FROM subscription_plans
		 WHERE status = ?
		 ORDER BY id ASC`,
		domain.StatusActive,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListActiveAddons(ctx context.Context, db *gorm.DB) ([]domain.AddonPackage, error) {
	var items []domain.AddonPackage
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, price, additional_generations, additional_validations, status
		 FROM addon_packages
		 WHERE status = ?
		 ORDER BY id ASC`,
		domain.StatusActive,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

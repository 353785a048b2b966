package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/paymatch/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, id string) (*domain.UserAccount, error) {
	var item domain.UserAccount
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, subscription_status, subscription_plan_id,
			subscription_renewal_date, updated_at
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

// ActivateIfNone flips the account to active only while it is still none.
// It reports false when the row was missing or already past none.
func (r *repo) ActivateIfNone(ctx context.Context, db *gorm.DB, id string, planID string, renewal time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET subscription_status = ?, subscription_plan_id = ?,
			subscription_renewal_date = ?, updated_at = ?
		 WHERE id = ? AND subscription_status = ?`,
		domain.StatusActive,
		planID,
		renewal,
		now,
		id,
		domain.StatusNone,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

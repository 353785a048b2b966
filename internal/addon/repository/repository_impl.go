package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymatch/internal/addon/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const purchaseColumns = `id, user_id, addon_package_id, package_snapshot,
	remaining_generations, remaining_validations, status, purchase_date,
	expiry_date, payment_reference, amount_paid, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, purchase *domain.Purchase) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO addon_purchases (`+purchaseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		purchase.ID,
		purchase.UserID,
		purchase.AddonPackageID,
		purchase.PackageSnapshot,
		purchase.RemainingGenerations,
		purchase.RemainingValidations,
		purchase.Status,
		purchase.PurchaseDate,
		purchase.ExpiryDate,
		purchase.PaymentReference,
		purchase.AmountPaid,
		purchase.CreatedAt,
		purchase.UpdatedAt,
	).Error
}

func (r *repo) ExistsByPaymentReference(ctx context.Context, db *gorm.DB, reference string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM addon_purchases WHERE payment_reference = ?`,
		reference,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// OldestConsumable returns the earliest purchase that is active, unexpired at
// now and still has quota left in column.
func (r *repo) OldestConsumable(ctx context.Context, db *gorm.DB, userID string, column string, now time.Time) (*domain.Purchase, error) {
	var item domain.Purchase
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT `+purchaseColumns+`
		 FROM addon_purchases
		 WHERE user_id = ? AND status = ? AND %s > 0
			AND (expiry_date IS NULL OR expiry_date > ?)
		 ORDER BY purchase_date ASC, id ASC
		 LIMIT 1`, column),
		userID,
		domain.PurchaseStatusActive,
		now,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Decrement removes one unit from column only while it is still positive.
func (r *repo) Decrement(ctx context.Context, db *gorm.DB, id snowflake.ID, column string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE addon_purchases
		 SET %[1]s = %[1]s - 1, updated_at = ?
		 WHERE id = ? AND status = ? AND %[1]s > 0`, column),
		now,
		id,
		domain.PurchaseStatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkDepletedIfEmpty(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE addon_purchases
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?
			AND remaining_generations = 0 AND remaining_validations = 0`,
		domain.PurchaseStatusDepleted,
		now,
		id,
		domain.PurchaseStatusActive,
	).Error
}

func (r *repo) SumRemaining(ctx context.Context, db *gorm.DB, userID string, now time.Time) (domain.QuotaSummary, error) {
	var row struct {
		RemainingGenerations int64
		RemainingValidations int64
		ActivePurchases      int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(remaining_generations), 0) AS remaining_generations,
			COALESCE(SUM(remaining_validations), 0) AS remaining_validations,
			COUNT(1) AS active_purchases
		 FROM addon_purchases
		 WHERE user_id = ? AND status = ?
			AND (expiry_date IS NULL OR expiry_date > ?)`,
		userID,
		domain.PurchaseStatusActive,
		now,
	).Scan(&row).Error
	if err != nil {
		return domain.QuotaSummary{}, err
	}
	return domain.QuotaSummary{
		UserID:               userID,
		RemainingGenerations: row.RemainingGenerations,
		RemainingValidations: row.RemainingValidations,
		ActivePurchases:      row.ActivePurchases,
	}, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Purchase, error) {
	var items []domain.Purchase
	err := db.WithContext(ctx).Raw(
		`SELECT `+purchaseColumns+`
		 FROM addon_purchases
		 WHERE user_id = ?
		 ORDER BY purchase_date ASC, id ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ExpireDue moves purchases whose expiry has passed to expired, whatever
// quota they still hold.
func (r *repo) ExpireDue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE addon_purchases
		 SET status = ?, updated_at = ?
		 WHERE status IN (?, ?) AND expiry_date IS NOT NULL AND expiry_date <= ?`,
		domain.PurchaseStatusExpired,
		now,
		domain.PurchaseStatusActive,
		domain.PurchaseStatusDepleted,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

package repository

import (
	"context"

	"github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	"github.com/smallbiznis/paymatch/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const ledgerColumns = `id, transaction_id, source, kind, actor_id, reference_id,
	amount, raw_memo, outcome, note, occurred_at, processed_at`

// Claim inserts the ledger row unless one already exists for its
// transaction id. It reports whether this caller created the row. A unique
// violation that slips past the conflict clause counts as a lost claim.
func (r *repo) Claim(ctx context.Context, conn *gorm.DB, record *domain.ProcessedTransaction) (bool, error) {
	result := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(record)
	if db.IsDuplicateKeyErr(result.Error) {
		return false, nil
	}
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateOutcome(ctx context.Context, db *gorm.DB, transactionID string, outcome domain.Outcome, note string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processed_transactions SET outcome = ?, note = ? WHERE transaction_id = ?`,
		outcome,
		note,
		transactionID,
	).Error
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.ProcessedTransaction, error) {
	var item domain.ProcessedTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+ledgerColumns+`
		 FROM processed_transactions
		 WHERE transaction_id = ?
		 LIMIT 1`,
		transactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// List returns rows newest first, keyed on (processed_at, id).
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.ProcessedTransaction, error) {
	var items []domain.ProcessedTransaction
	query := db.WithContext(ctx).
		Table("processed_transactions").
		Select(ledgerColumns)
	if filter.BeforeProcessedAt != nil {
		query = query.Where(
			"processed_at < ? OR (processed_at = ? AND id < ?)",
			*filter.BeforeProcessedAt,
			*filter.BeforeProcessedAt,
			filter.BeforeID,
		)
	}
	err := query.
		Order("processed_at DESC").
		Order("id DESC").
		Limit(filter.Limit).
		Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

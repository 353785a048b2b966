package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Schema mirrors the postgres migration with sqlite column types.
var Schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		subscription_status TEXT NOT NULL DEFAULT 'none',
		subscription_plan_id TEXT,
		subscription_renewal_date DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE subscription_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		billing_cycle TEXT NOT NULL,
		price BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE addon_packages (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price BIGINT NOT NULL,
		additional_generations INTEGER NOT NULL DEFAULT 0,
		additional_validations INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE processed_transactions (
		id BIGINT PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		amount BIGINT NOT NULL,
		raw_memo TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		note TEXT,
		occurred_at DATETIME NOT NULL,
		processed_at DATETIME NOT NULL
	)`,
	`CREATE TABLE addon_purchases (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		addon_package_id TEXT NOT NULL,
		package_snapshot TEXT NOT NULL,
		remaining_generations INTEGER NOT NULL CHECK (remaining_generations >= 0),
		remaining_validations INTEGER NOT NULL CHECK (remaining_validations >= 0),
		status TEXT NOT NULL DEFAULT 'active',
		purchase_date DATETIME NOT NULL,
		expiry_date DATETIME,
		payment_reference TEXT NOT NULL,
		amount_paid BIGINT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX idx_addon_purchases_payment_reference ON addon_purchases(payment_reference)`,
}

// NewDB opens an isolated in-memory sqlite database with the schema applied.
// The pool is pinned to one connection so concurrent callers serialize the
// way row locks serialize them on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// Count returns the number of rows in table matching the optional where clause.
func Count(t *testing.T, db *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()

	var count int64
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

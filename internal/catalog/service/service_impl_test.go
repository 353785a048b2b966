package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/paymatch/internal/catalog/domain"
	"github.com/smallbiznis/paymatch/internal/catalog/repository"
	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, db *gorm.DB, rules config.ReconcileConfig) *Service {
	t.Helper()
	return newService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  repository.Provide(),
		Rules: config.NewStaticReconcileConfigHolder(rules),
	}, time.Minute)
}

func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO subscription_plans (id, name, billing_cycle, price, status) VALUES
			('bb11000000000000000000a1', 'Pro Monthly', 'monthly', 99000, 'active'),
			('bb11000000000000000000b2', 'Pro Yearly', 'yearly', 990000, 'active'),
			('cc22000000000000000000c3', 'Legacy', 'monthly', 49000, 'inactive')`,
		`INSERT INTO addon_packages (id, name, price, additional_generations, additional_validations, status) VALUES
			('0f0f000000000000000000d4', 'Boost 50', 50000, 50, 10, 'active')`,
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
}

func TestResolvePlanDisambiguatesByAmount(t *testing.T) {
	db := testutil.NewDB(t)
	seedCatalog(t, db)
	svc := newTestService(t, db, config.DefaultReconcileConfig())

	plan, err := svc.ResolvePlan(context.Background(), "bb11", 990000)
	require.NoError(t, err)
	assert.Equal(t, "bb11000000000000000000b2", plan.ID)
	assert.Equal(t, domain.BillingCycleYearly, plan.BillingCycle)
}

func TestResolvePlanIgnoresInactivePlans(t *testing.T) {
	db := testutil.NewDB(t)
	seedCatalog(t, db)
	svc := newTestService(t, db, config.DefaultReconcileConfig())

	_, err := svc.ResolvePlan(context.Background(), "cc22", 49000)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolvePlanRejectPolicy(t *testing.T) {
	db := testutil.NewDB(t)
	seedCatalog(t, db)
	rules := config.DefaultReconcileConfig()
	rules.AmbiguousPrefix = config.AmbiguousPrefixReject
	svc := newTestService(t, db, rules)

	_, err := svc.ResolvePlan(context.Background(), "bb11", 1)
	require.ErrorIs(t, err, domain.ErrAmbiguousPrefix)
}

func TestResolveAddonUsesCacheUntilInvalidated(t *testing.T) {
	db := testutil.NewDB(t)
	seedCatalog(t, db)
	svc := newTestService(t, db, config.DefaultReconcileConfig())
	ctx := context.Background()

	addon, err := svc.ResolveAddon(ctx, "0f0f", 50000)
	require.NoError(t, err)
	assert.Equal(t, 50, addon.AdditionalGenerations)
	assert.Equal(t, 10, addon.AdditionalValidations)

	require.NoError(t, db.Exec(`UPDATE addon_packages SET status = 'inactive'`).Error)

	_, err = svc.ResolveAddon(ctx, "0f0f", 50000)
	require.NoError(t, err, "cached catalog should still resolve")

	svc.Invalidate()
	_, err = svc.ResolveAddon(ctx, "0f0f", 50000)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRuleReloadInvalidatesCache(t *testing.T) {
	db := testutil.NewDB(t)
	seedCatalog(t, db)
	rules := config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	svc := newService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  repository.Provide(),
		Rules: rules,
	}, time.Minute)
	ctx := context.Background()

	_, err := svc.ResolvePlan(ctx, "bb11", 99000)
	require.NoError(t, err)

	require.NoError(t, db.Exec(`UPDATE subscription_plans SET price = 89000 WHERE id = 'bb11000000000000000000a1'`).Error)
	rules.Set(config.DefaultReconcileConfig())

	plan, err := svc.ResolvePlan(ctx, "bb11", 89000)
	require.NoError(t, err)
	assert.Equal(t, "bb11000000000000000000a1", plan.ID)
	assert.Equal(t, int64(89000), plan.Price)
}

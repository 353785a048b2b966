package service

import (
	"context"
	"testing"
	"time"

	catalogdomain "github.com/smallbiznis/paymatch/internal/catalog/domain"
	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/subscription/domain"
	"github.com/smallbiznis/paymatch/internal/subscription/repository"
	"github.com/smallbiznis/paymatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const userID = "aaaaaaaaaaaaaaaaaaaaaaaa"

var monthly = catalogdomain.SubscriptionPlan{
	ID:           "bb11000000000000000000a1",
	Name:         "Pro Monthly",
	BillingCycle: catalogdomain.BillingCycleMonthly,
	Price:        99000,
}

func TestActivateTransitionsNoneToActive(t *testing.T) {
	db := testutil.NewDB(t)
	require.NoError(t, db.Exec(`INSERT INTO users (id, email, subscription_status) VALUES (?, ?, 'none')`, userID, "a@example.com").Error)

	now := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	svc := NewService(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide(), Clock: clock.NewFakeClock(now)})

	got, err := svc.Activate(context.Background(), nil, userID, monthly)
	require.NoError(t, err)
	assert.Equal(t, domain.ActivationActivated, got.Result)
	assert.Equal(t, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC), got.RenewalDate)

	user, err := svc.FindUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, user.SubscriptionStatus)
	require.NotNil(t, user.SubscriptionPlanID)
	assert.Equal(t, monthly.ID, *user.SubscriptionPlanID)
	require.NotNil(t, user.SubscriptionRenewalDate)
	assert.True(t, user.SubscriptionRenewalDate.Equal(got.RenewalDate))
}

func TestActivateNeverReactivates(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusActive, domain.StatusExpired, domain.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			db := testutil.NewDB(t)
			renewal := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			require.NoError(t, db.Exec(
				`INSERT INTO users (id, subscription_status, subscription_plan_id, subscription_renewal_date) VALUES (?, ?, ?, ?)`,
				userID, status, "old-plan", renewal,
			).Error)

			svc := NewService(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide(), Clock: clock.NewFakeClock(time.Now())})
			got, err := svc.Activate(context.Background(), db, userID, monthly)
			require.NoError(t, err)
			assert.Equal(t, domain.ActivationNoop, got.Result)

			user, err := svc.FindUser(context.Background(), userID)
			require.NoError(t, err)
			assert.Equal(t, status, user.SubscriptionStatus)
			assert.Equal(t, "old-plan", *user.SubscriptionPlanID)
			assert.True(t, user.SubscriptionRenewalDate.Equal(renewal))
		})
	}
}

func TestFindUserMissing(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide(), Clock: clock.New()})

	_, err := svc.FindUser(context.Background(), userID)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestRenewalDate(t *testing.T) {
	from := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)

	got, err := RenewalDate(from, catalogdomain.BillingCycleMonthly)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 29, 12, 0, 0, 0, time.UTC), got)

	got, err = RenewalDate(from, catalogdomain.BillingCycleYearly)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), got)

	_, err = RenewalDate(from, "weekly")
	require.ErrorIs(t, err, domain.ErrInvalidBillingCycle)
}

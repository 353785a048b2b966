package service

import (
	"context"
	"time"

	catalogdomain "github.com/smallbiznis/paymatch/internal/catalog/domain"
	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Activator {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) FindUser(ctx context.Context, id string) (*domain.UserAccount, error) {
	user, err := s.repo.FindUser(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) Activate(ctx context.Context, db *gorm.DB, userID string, plan catalogdomain.SubscriptionPlan) (domain.Activation, error) {
	if db == nil {
		db = s.db
	}
	now := s.clock.Now().UTC()
	renewal, err := RenewalDate(now, plan.BillingCycle)
	if err != nil {
		return domain.Activation{}, err
	}

	updated, err := s.repo.ActivateIfNone(ctx, db, userID, plan.ID, renewal, now)
	if err != nil {
		return domain.Activation{}, err
	}
	if !updated {
		s.log.Info("activation skipped, account not in none state",
			zap.String("user_id", userID),
			zap.String("plan_id", plan.ID),
		)
		return domain.Activation{Result: domain.ActivationNoop}, nil
	}

	s.log.Info("subscription activated",
		zap.String("user_id", userID),
		zap.String("plan_id", plan.ID),
		zap.Time("renewal_date", renewal),
	)
	return domain.Activation{Result: domain.ActivationActivated, RenewalDate: renewal}, nil
}

// RenewalDate adds one billing cycle to from. Month arithmetic clamps to the
// last day of the target month, so Jan 31 renews on the last day of February.
func RenewalDate(from time.Time, cycle catalogdomain.BillingCycle) (time.Time, error) {
	switch cycle {
	case catalogdomain.BillingCycleMonthly:
		return addMonthsClamped(from, 1), nil
	case catalogdomain.BillingCycleYearly:
		return addMonthsClamped(from, 12), nil
	default:
		return time.Time{}, domain.ErrInvalidBillingCycle
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

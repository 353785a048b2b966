package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/smallbiznis/paymatch/internal/catalog/domain"
	"github.com/smallbiznis/paymatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cacheKeyActive = "active"
	defaultTTL     = 30 * time.Second
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Rules *config.ReconcileConfigHolder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	rules *config.ReconcileConfigHolder

	plans  *expirable.LRU[string, []domain.SubscriptionPlan]
	addons *expirable.LRU[string, []domain.AddonPackage]
}

func NewService(p Params) domain.Resolver {
	return newService(p, defaultTTL)
}

func newService(p Params, ttl time.Duration) *Service {
	s := &Service{
		db:     p.DB,
		log:    p.Log.Named("catalog.service"),
		repo:   p.Repo,
		rules:  p.Rules,
		plans:  expirable.NewLRU[string, []domain.SubscriptionPlan](1, nil, ttl),
		addons: expirable.NewLRU[string, []domain.AddonPackage](1, nil, ttl),
	}
	if p.Rules != nil {
		p.Rules.OnChange(func(config.ReconcileConfig) {
			s.Invalidate()
			s.log.Info("catalog cache invalidated after rule reload")
		})
	}
	return s
}

func (s *Service) ResolvePlan(ctx context.Context, id string, amount int64) (*domain.SubscriptionPlan, error) {
	plans, ok := s.plans.Get(cacheKeyActive)
	if !ok {
		loaded, err := s.repo.ListActivePlans(ctx, s.db)
		if err != nil {
			return nil, err
		}
		s.plans.Add(cacheKeyActive, loaded)
		plans = loaded
	}

	plan, err := resolve(plans, id, amount, s.rejectAmbiguous())
	if err != nil {
		s.log.Debug("plan not resolved", zap.String("catalog_id", id), zap.Error(err))
		return nil, err
	}
	return &plan, nil
}

func (s *Service) ResolveAddon(ctx context.Context, id string, amount int64) (*domain.AddonPackage, error) {
	addons, ok := s.addons.Get(cacheKeyActive)
	if !ok {
		loaded, err := s.repo.ListActiveAddons(ctx, s.db)
		if err != nil {
			return nil, err
		}
		s.addons.Add(cacheKeyActive, loaded)
		addons = loaded
	}

	addon, err := resolve(addons, id, amount, s.rejectAmbiguous())
	if err != nil {
		s.log.Debug("addon not resolved", zap.String("catalog_id", id), zap.Error(err))
		return nil, err
	}
	return &addon, nil
}

// Invalidate drops the cached catalog so the next lookup hits the database.
func (s *Service) Invalidate() {
	s.plans.Purge()
	s.addons.Purge()
}

func (s *Service) rejectAmbiguous() bool {
	if s.rules == nil {
		return false
	}
	return s.rules.Get().AmbiguousPrefix == config.AmbiguousPrefixReject
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymatch/internal/addon/domain"
	"github.com/smallbiznis/paymatch/internal/clock"
	obsmetrics "github.com/smallbiznis/paymatch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxConsumeAttempts bounds retries when a concurrent consumer drains the
// selected purchase between the read and the conditional decrement.
const maxConsumeAttempts = 5

var actionColumns = map[domain.Action]string{
	domain.ActionGeneration: "remaining_generations",
	domain.ActionValidation: "remaining_validations",
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Ledger {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("addon.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

// Grant records a new purchase with counters seeded from the package.
func (s *Service) Grant(ctx context.Context, db *gorm.DB, req domain.GrantRequest) (*domain.Purchase, error) {
	if db == nil {
		db = s.db
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.ErrInvalidUser
	}
	if strings.TrimSpace(req.Package.ID) == "" {
		return nil, domain.ErrInvalidPackage
	}

	now := s.clock.Now().UTC()
	var expiry *time.Time
	if req.ExpiryDate != nil {
		value := req.ExpiryDate.UTC()
		expiry = &value
	}
	snapshot := domain.SnapshotOf(req.Package)
	purchase := &domain.Purchase{
		ID:                   s.genID.Generate(),
		UserID:               req.UserID,
		AddonPackageID:       req.Package.ID,
		PackageSnapshot:      datatypes.NewJSONType(snapshot),
		RemainingGenerations: snapshot.AdditionalGenerations,
		RemainingValidations: snapshot.AdditionalValidations,
		Status:               domain.PurchaseStatusActive,
		PurchaseDate:         now,
		ExpiryDate:           expiry,
		PaymentReference:     req.TransactionID,
		AmountPaid:           req.AmountPaid,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if purchase.RemainingGenerations == 0 && purchase.RemainingValidations == 0 {
		purchase.Status = domain.PurchaseStatusDepleted
	}

	if err := s.repo.Insert(ctx, db, purchase); err != nil {
		return nil, err
	}

	s.log.Info("addon granted",
		zap.String("user_id", purchase.UserID),
		zap.String("addon_package_id", purchase.AddonPackageID),
		zap.String("payment_reference", purchase.PaymentReference),
		zap.Int64("purchase_id", purchase.ID.Int64()),
	)
	return purchase, nil
}

func (s *Service) HasPurchaseForReference(ctx context.Context, db *gorm.DB, reference string) (bool, error) {
	if db == nil {
		db = s.db
	}
	return s.repo.ExistsByPaymentReference(ctx, db, reference)
}

// Consume takes one unit of the action's quota from the oldest eligible
// purchase. A false result means the user has no quota left for action;
// ErrConsumeContended means quota may remain but every attempt lost a race.
func (s *Service) Consume(ctx context.Context, userID string, action domain.Action) (domain.ConsumeResult, error) {
	column, ok := actionColumns[action]
	if !ok {
		return domain.ConsumeResult{}, domain.ErrInvalidAction
	}
	if strings.TrimSpace(userID) == "" {
		return domain.ConsumeResult{}, domain.ErrInvalidUser
	}

	for attempt := 1; attempt <= maxConsumeAttempts; attempt++ {
		var (
			result domain.ConsumeResult
			done   bool
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now().UTC()
			purchase, err := s.repo.OldestConsumable(ctx, tx, userID, column, now)
			if err != nil {
				return err
			}
			if purchase == nil {
				done = true
				return nil
			}

			decremented, err := s.repo.Decrement(ctx, tx, purchase.ID, column, now)
			if err != nil {
				return err
			}
			if !decremented {
				return nil
			}
			if err := s.repo.MarkDepletedIfEmpty(ctx, tx, purchase.ID, now); err != nil {
				return err
			}
			result = domain.ConsumeResult{Consumed: true, PurchaseID: purchase.ID}
			done = true
			return nil
		})
		if err != nil {
			return domain.ConsumeResult{}, err
		}
		if done {
			s.obsMetrics.RecordAddonConsume(string(action), result.Consumed)
			return result, nil
		}
		s.log.Debug("addon consume lost race, retrying",
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Int("attempt", attempt),
		)
	}

	s.log.Warn("addon consume contended",
		zap.String("user_id", userID),
		zap.String("action", string(action)),
		zap.Int("attempts", maxConsumeAttempts),
	)
	s.obsMetrics.RecordAddonConsume(string(action), false)
	return domain.ConsumeResult{}, domain.ErrConsumeContended
}

func (s *Service) Quota(ctx context.Context, userID string) (domain.QuotaSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.QuotaSummary{}, domain.ErrInvalidUser
	}
	return s.repo.SumRemaining(ctx, s.db, userID, s.clock.Now().UTC())
}

func (s *Service) ListPurchases(ctx context.Context, userID string) ([]domain.Purchase, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidUser
	}
	return s.repo.ListByUser(ctx, s.db, userID)
}

func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	count, err := s.repo.ExpireDue(ctx, s.db, now.UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Info("addon purchases expired", zap.Int64("count", count))
	}
	return count, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	addondomain "github.com/smallbiznis/paymatch/internal/addon/domain"
	catalogdomain "github.com/smallbiznis/paymatch/internal/catalog/domain"
	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/memo"
	"github.com/smallbiznis/paymatch/internal/notification"
	obsmetrics "github.com/smallbiznis/paymatch/internal/observability/metrics"
	"github.com/smallbiznis/paymatch/internal/providers/email"
	"github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	subscriptiondomain "github.com/smallbiznis/paymatch/internal/subscription/domain"
	"github.com/smallbiznis/paymatch/internal/transaction"
	"github.com/smallbiznis/paymatch/pkg/db/pagination"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tracerName = "paymatch/reconciliation"
	dateLayout = "2006-01-02"
)

// errClaimLost aborts the claim transaction when another caller already
// owns the ledger row.
var errClaimLost = errors.New("claim_lost")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Config       config.Config
	Repo         domain.Repository
	Source       transaction.Source
	Extractor    *memo.Extractor
	Catalog      catalogdomain.Resolver
	Subscription subscriptiondomain.Activator
	Addon        addondomain.Ledger
	Notifier     notification.Sink `optional:"true"`
	Clock        clock.Clock
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	sepay        config.SePayConfig
	repo         domain.Repository
	source       transaction.Source
	extractor    *memo.Extractor
	catalog      catalogdomain.Resolver
	subscription subscriptiondomain.Activator
	addon        addondomain.Ledger
	notifier     notification.Sink
	clock        clock.Clock
	obsMetrics   *obsmetrics.Metrics
	tracer       trace.Tracer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reconciliation.service"),
		genID:        p.GenID,
		sepay:        p.Config.SePay,
		repo:         p.Repo,
		source:       p.Source,
		extractor:    p.Extractor,
		catalog:      p.Catalog,
		subscription: p.Subscription,
		addon:        p.Addon,
		notifier:     p.Notifier,
		clock:        p.Clock,
		obsMetrics:   p.ObsMetrics,
		tracer:       otel.Tracer(tracerName),
	}
}

// RunPass fetches the recent feed and processes each transaction in order.
// A source failure aborts the pass before anything is claimed.
func (s *Service) RunPass(ctx context.Context, req domain.PassRequest) (domain.PassSummary, error) {
	switch req.Source {
	case domain.SourceWebhook, domain.SourceScanner, domain.SourceManual:
	default:
		return domain.PassSummary{}, domain.ErrInvalidSource
	}

	started := s.clock.Now().UTC()
	summary := domain.PassSummary{
		RunID:     ulid.Make().String(),
		Source:    req.Source,
		StartedAt: started,
		Results:   []domain.TransactionResult{},
	}

	ctx, span := s.tracer.Start(ctx, "reconcile.pass", trace.WithAttributes(
		attribute.String("source", string(req.Source)),
		attribute.String("run_id", summary.RunID),
	))
	defer span.End()

	log := s.log.With(zap.String("run_id", summary.RunID), zap.String("source", string(req.Source)))

	limit := req.Limit
	if limit <= 0 {
		limit = s.sepay.Limit
	}
	txs, err := s.source.ListTransactions(ctx, transaction.ListOptions{
		AccountNumber: s.sepay.AccountNumber,
		Limit:         limit,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
		}
		s.finish(&summary, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "source unavailable")
		log.Warn("reconcile pass aborted", zap.Error(err))
		return summary, err
	}
	summary.Fetched = len(txs)

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			s.finish(&summary, "cancelled")
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			log.Warn("reconcile pass cancelled", zap.Int("considered", summary.Considered), zap.Error(err))
			return summary, err
		}
		if !req.Since.IsZero() && tx.OccurredAt.Before(req.Since) {
			continue
		}
		summary.Add(s.ProcessTransaction(ctx, req.Source, tx))
	}

	s.finish(&summary, "ok")
	span.SetAttributes(
		attribute.Int("fetched", summary.Fetched),
		attribute.Int("activated", summary.Activated),
	)
	log.Info("reconcile pass completed",
		zap.Int("fetched", summary.Fetched),
		zap.Int("considered", summary.Considered),
		zap.Int("matched", summary.Matched),
		zap.Int("activated", summary.Activated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("already_processed", summary.AlreadyProcessed),
		zap.Int("ignored", summary.Ignored),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (s *Service) finish(summary *domain.PassSummary, status string) {
	summary.FinishedAt = s.clock.Now().UTC()
	s.obsMetrics.RecordPass(string(summary.Source), status, summary.FinishedAt.Sub(summary.StartedAt).Seconds())
}

// ProcessTransaction classifies one transaction and applies its effect at
// most once. Failures are reported on the result, never returned.
func (s *Service) ProcessTransaction(ctx context.Context, source domain.Source, tx transaction.ExternalTransaction) domain.TransactionResult {
	result := s.process(ctx, source, tx)
	s.obsMetrics.RecordTransaction(string(source), string(result.Kind), string(result.Reason))

	fields := []zap.Field{
		zap.String("transaction_id", result.TransactionID),
		zap.String("kind", string(result.Kind)),
		zap.String("actor_id", result.ActorID),
		zap.String("reference_id", result.ReferenceID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", string(result.Reason)),
	}
	switch result.Reason {
	case domain.ReasonActivated:
		s.log.Info("transaction applied", fields...)
	case domain.ReasonUnrelated, domain.ReasonAlreadyProcessed:
		s.log.Debug("transaction skipped", fields...)
	default:
		s.log.Warn("transaction not applied", fields...)
	}
	return result
}

func (s *Service) process(ctx context.Context, source domain.Source, tx transaction.ExternalTransaction) domain.TransactionResult {
	result := domain.TransactionResult{
		TransactionID: tx.ID,
		Kind:          domain.KindUnrelated,
		Amount:        tx.Amount,
	}

	parsed, err := s.extractor.Extract(tx.Memo)
	if err != nil {
		result.Kind = kindOf(parsed.Kind)
		result.Reason = domain.ReasonExtractionFailed
		return result
	}
	if parsed.Kind == memo.KindUnrelated {
		result.Reason = domain.ReasonUnrelated
		return result
	}
	result.Kind = kindOf(parsed.Kind)
	result.ActorID = parsed.ActorID

	// Cheap replay short-circuit. The claim below is what actually guards.
	existing, err := s.repo.FindByTransactionID(ctx, s.db, tx.ID)
	if err != nil {
		return failed(result, s.log, err)
	}
	if existing != nil {
		result.ReferenceID = existing.ReferenceID
		result.Outcome = domain.OutcomeAlreadyProcessed
		result.Reason = domain.ReasonAlreadyProcessed
		return result
	}

	switch parsed.Kind {
	case memo.KindSubscription:
		return s.processSubscription(ctx, source, tx, parsed, result)
	default:
		return s.processAddon(ctx, source, tx, parsed, result)
	}
}

func (s *Service) processSubscription(ctx context.Context, source domain.Source, tx transaction.ExternalTransaction, parsed memo.Result, result domain.TransactionResult) domain.TransactionResult {
	plan, err := s.catalog.ResolvePlan(ctx, parsed.CatalogID, tx.Amount)
	if err != nil {
		return catalogFailure(result, s.log, err)
	}
	result.ReferenceID = plan.ID
	if plan.Price != tx.Amount {
		return s.recordTerminal(ctx, source, tx, result, domain.OutcomeSkipped, domain.ReasonAmountMismatch)
	}

	user, err := s.subscription.FindUser(ctx, parsed.ActorID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrUserNotFound) {
			result.Reason = domain.ReasonUserNotFound
			return result
		}
		return failed(result, s.log, err)
	}

	var activation subscriptiondomain.Activation
	err = s.db.WithContext(ctx).Transaction(func(txdb *gorm.DB) error {
		acquired, err := s.repo.Claim(ctx, txdb, s.newRecord(source, tx, result, domain.OutcomeClaimed, ""))
		if err != nil {
			return err
		}
		if !acquired {
			return errClaimLost
		}

		activation, err = s.subscription.Activate(ctx, txdb, user.ID, *plan)
		if err != nil {
			return err
		}
		if activation.Result == subscriptiondomain.ActivationNoop {
			return s.repo.UpdateOutcome(ctx, txdb, tx.ID, domain.OutcomeSkipped, string(domain.ReasonActivationNoop))
		}
		return s.repo.UpdateOutcome(ctx, txdb, tx.ID, domain.OutcomeActivated, "")
	})
	if err != nil {
		if errors.Is(err, errClaimLost) {
			result.Outcome = domain.OutcomeAlreadyProcessed
			result.Reason = domain.ReasonAlreadyProcessed
			return result
		}
		return failed(result, s.log, err)
	}

	if activation.Result == subscriptiondomain.ActivationNoop {
		result.Outcome = domain.OutcomeSkipped
		result.Reason = domain.ReasonActivationNoop
		return result
	}

	result.Outcome = domain.OutcomeActivated
	result.Reason = domain.ReasonActivated
	s.notify(notification.Email{
		To:       user.Email,
		Template: email.TemplatePaymentSucceeded,
		Variables: map[string]any{
			"name":           displayName(user),
			"plan_name":      plan.Name,
			"amount":         formatAmount(tx.Amount),
			"renewal_date":   activation.RenewalDate.Format(dateLayout),
			"transaction_id": tx.ID,
		},
	})
	return result
}

func (s *Service) processAddon(ctx context.Context, source domain.Source, tx transaction.ExternalTransaction, parsed memo.Result, result domain.TransactionResult) domain.TransactionResult {
	pkg, err := s.catalog.ResolveAddon(ctx, parsed.CatalogID, tx.Amount)
	if err != nil {
		return catalogFailure(result, s.log, err)
	}
	result.ReferenceID = pkg.ID
	if pkg.Price != tx.Amount {
		return s.recordTerminal(ctx, source, tx, result, domain.OutcomeSkipped, domain.ReasonAmountMismatch)
	}

	user, err := s.subscription.FindUser(ctx, parsed.ActorID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrUserNotFound) {
			result.Reason = domain.ReasonUserNotFound
			return result
		}
		return failed(result, s.log, err)
	}

	var (
		purchase *addondomain.Purchase
		legacy   bool
	)
	err = s.db.WithContext(ctx).Transaction(func(txdb *gorm.DB) error {
		acquired, err := s.repo.Claim(ctx, txdb, s.newRecord(source, tx, result, domain.OutcomeClaimed, ""))
		if err != nil {
			return err
		}
		if !acquired {
			return errClaimLost
		}

		// Purchases recorded before the ledger existed carry the reference.
		legacy, err = s.addon.HasPurchaseForReference(ctx, txdb, tx.ID)
		if err != nil {
			return err
		}
		if legacy {
			return s.repo.UpdateOutcome(ctx, txdb, tx.ID, domain.OutcomeAlreadyProcessed, string(domain.ReasonLegacyPurchase))
		}

		purchase, err = s.addon.Grant(ctx, txdb, addondomain.GrantRequest{
			UserID:        user.ID,
			Package:       *pkg,
			TransactionID: tx.ID,
			AmountPaid:    tx.Amount,
			ExpiryDate:    user.CurrentPeriodEnd(),
		})
		if err != nil {
			return err
		}
		return s.repo.UpdateOutcome(ctx, txdb, tx.ID, domain.OutcomeActivated, "")
	})
	if err != nil {
		if errors.Is(err, errClaimLost) {
			result.Outcome = domain.OutcomeAlreadyProcessed
			result.Reason = domain.ReasonAlreadyProcessed
			return result
		}
		return failed(result, s.log, err)
	}

	if legacy {
		result.Outcome = domain.OutcomeAlreadyProcessed
		result.Reason = domain.ReasonLegacyPurchase
		return result
	}

	result.Outcome = domain.OutcomeActivated
	result.Reason = domain.ReasonActivated
	expiry := ""
	if purchase.ExpiryDate != nil {
		expiry = purchase.ExpiryDate.Format(dateLayout)
	}
	s.notify(notification.Email{
		To:       user.Email,
		Template: email.TemplateAddonPurchased,
		Variables: map[string]any{
			"name":           displayName(user),
			"addon_name":     pkg.Name,
			"amount":         formatAmount(tx.Amount),
			"generations":    pkg.AdditionalGenerations,
			"validations":    pkg.AdditionalValidations,
			"expiry_date":    expiry,
			"transaction_id": tx.ID,
		},
	})
	return result
}

// recordTerminal writes a final ledger row without applying any effect.
func (s *Service) recordTerminal(ctx context.Context, source domain.Source, tx transaction.ExternalTransaction, result domain.TransactionResult, outcome domain.Outcome, reason domain.Reason) domain.TransactionResult {
	acquired, err := s.repo.Claim(ctx, s.db, s.newRecord(source, tx, result, outcome, string(reason)))
	if err != nil {
		return failed(result, s.log, err)
	}
	if !acquired {
		result.Outcome = domain.OutcomeAlreadyProcessed
		result.Reason = domain.ReasonAlreadyProcessed
		return result
	}
	result.Outcome = outcome
	result.Reason = reason
	return result
}

func (s *Service) newRecord(source domain.Source, tx transaction.ExternalTransaction, result domain.TransactionResult, outcome domain.Outcome, note string) *domain.ProcessedTransaction {
	return &domain.ProcessedTransaction{
		ID:            s.genID.Generate(),
		TransactionID: tx.ID,
		Source:        source,
		Kind:          result.Kind,
		ActorID:       result.ActorID,
		ReferenceID:   result.ReferenceID,
		Amount:        tx.Amount,
		RawMemo:       tx.Memo,
		Outcome:       outcome,
		Note:          note,
		OccurredAt:    tx.OccurredAt.UTC(),
		ProcessedAt:   s.clock.Now().UTC(),
	}
}

func (s *Service) notify(msg notification.Email) {
	if s.notifier == nil {
		return
	}
	s.notifier.Enqueue(msg)
}

func (s *Service) Lookup(ctx context.Context, transactionID string) (*domain.ProcessedTransaction, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, domain.ErrNotFound
	}
	item, err := s.repo.FindByTransactionID(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

// List pages through the ledger newest first.
func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResult, error) {
	size := pagination.NormalizeSize(req.PageSize)
	filter := domain.ListFilter{Limit: size + 1}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResult{}, domain.ErrInvalidPageToken
	}
	if cursor != nil {
		processedAt, err := time.Parse(time.RFC3339Nano, cursor.Timestamp)
		if err != nil {
			return domain.ListResult{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListResult{}, domain.ErrInvalidPageToken
		}
		processedAt = processedAt.UTC()
		filter.BeforeProcessedAt = &processedAt
		filter.BeforeID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResult{}, err
	}
	items, info, err := pagination.Page(items, size, func(item domain.ProcessedTransaction) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			Timestamp: item.ProcessedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return domain.ListResult{}, err
	}
	if items == nil {
		items = []domain.ProcessedTransaction{}
	}
	return domain.ListResult{Items: items, PageInfo: info}, nil
}

func kindOf(kind memo.Kind) domain.Kind {
	switch kind {
	case memo.KindSubscription:
		return domain.KindSubscription
	case memo.KindAddon:
		return domain.KindAddon
	default:
		return domain.KindUnrelated
	}
}

func catalogFailure(result domain.TransactionResult, log *zap.Logger, err error) domain.TransactionResult {
	if errors.Is(err, catalogdomain.ErrNotFound) || errors.Is(err, catalogdomain.ErrAmbiguousPrefix) {
		result.Reason = domain.ReasonCatalogNotFound
		return result
	}
	return failed(result, log, err)
}

func failed(result domain.TransactionResult, log *zap.Logger, err error) domain.TransactionResult {
	log.Error("transaction processing failed",
		zap.String("transaction_id", result.TransactionID),
		zap.Error(err),
	)
	result.Outcome = ""
	result.Reason = domain.ReasonError
	return result
}

func displayName(user *subscriptiondomain.UserAccount) string {
	if name := strings.TrimSpace(user.Name); name != "" {
		return name
	}
	return user.Email
}

func formatAmount(amount int64) string {
	return humanize.Comma(amount)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	addonrepository "github.com/smallbiznis/paymatch/internal/addon/repository"
	addonservice "github.com/smallbiznis/paymatch/internal/addon/service"
	catalogrepository "github.com/smallbiznis/paymatch/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/paymatch/internal/catalog/service"
	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/memo"
	"github.com/smallbiznis/paymatch/internal/notification"
	"github.com/smallbiznis/paymatch/internal/providers/email"
	"github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	"github.com/smallbiznis/paymatch/internal/reconciliation/repository"
	subscriptiondomain "github.com/smallbiznis/paymatch/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/paymatch/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/paymatch/internal/subscription/service"
	"github.com/smallbiznis/paymatch/internal/testutil"
	"github.com/smallbiznis/paymatch/internal/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	actorID  = "aaaaaaaaaaaaaaaaaaaaaaaa"
	planID   = "bb1100000000000000000001"
	addonID  = "0f0f0000000000000000000d"
	planMemo = "SEVQR uid:" + actorID + " planid:bb11"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	txs   []transaction.ExternalTransaction
	err   error
	calls int
}

func (f *fakeSource) ListTransactions(ctx context.Context, opts transaction.ListOptions) ([]transaction.ExternalTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]transaction.ExternalTransaction(nil), f.txs...), nil
}

type recordingSink struct {
	mu     sync.Mutex
	emails []notification.Email
}

func (r *recordingSink) Enqueue(msg notification.Email) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails = append(r.emails, msg)
	return true
}

func (r *recordingSink) sent() []notification.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Email(nil), r.emails...)
}

type harness struct {
	svc    *Service
	db     *gorm.DB
	clock  *clock.FakeClock
	source *fakeSource
	sink   *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.NewDB(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	fake := clock.NewFakeClock(baseTime)
	log := zap.NewNop()
	rules := config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())

	seed := []string{
		`INSERT INTO subscription_plans (id, name, billing_cycle, price, status) VALUES ('` + planID + `', 'Pro Monthly', 'monthly', 99000, 'active')`,
		`INSERT INTO subscription_plans (id, name, billing_cycle, price, status) VALUES ('cc2200000000000000000002', 'Pro Yearly', 'yearly', 990000, 'active')`,
		`INSERT INTO addon_packages (id, name, price, additional_generations, additional_validations, status) VALUES ('` + addonID + `', 'Boost', 50000, 10, 5, 'active')`,
	}
	for _, stmt := range seed {
		require.NoError(t, db.Exec(stmt).Error)
	}

	source := &fakeSource{}
	sink := &recordingSink{}
	svc := NewService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Config:    config.Config{SePay: config.SePayConfig{Limit: 100}},
		Repo:      repository.Provide(),
		Source:    source,
		Extractor: memo.NewExtractor(rules),
		Catalog: catalogservice.NewService(catalogservice.Params{
			DB:    db,
			Log:   log,
			Repo:  catalogrepository.Provide(),
			Rules: rules,
		}),
		Subscription: subscriptionservice.NewService(subscriptionservice.Params{
			DB:    db,
			Log:   log,
			Repo:  subscriptionrepository.Provide(),
			Clock: fake,
		}),
		Addon: addonservice.NewService(addonservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Repo:  addonrepository.Provide(),
			Clock: fake,
		}),
		Notifier: sink,
		Clock:    fake,
	}).(*Service)

	return &harness{svc: svc, db: db, clock: fake, source: source, sink: sink}
}

func (h *harness) addUser(t *testing.T, id string, status subscriptiondomain.Status, renewal *time.Time) {
	t.Helper()
	require.NoError(t, h.db.Exec(
		`INSERT INTO users (id, email, name, subscription_status, subscription_renewal_date) VALUES (?, ?, ?, ?, ?)`,
		id, id[:4]+"@example.com", "Test User", status, renewal,
	).Error)
}

func (h *harness) user(t *testing.T, id string) *subscriptiondomain.UserAccount {
	t.Helper()
	user, err := subscriptionrepository.Provide().FindUser(context.Background(), h.db, id)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func (h *harness) ledgerRow(t *testing.T, transactionID string) *domain.ProcessedTransaction {
	t.Helper()
	row, err := repository.Provide().FindByTransactionID(context.Background(), h.db, transactionID)
	require.NoError(t, err)
	return row
}

func externalTx(id string, amount int64, memoText string) transaction.ExternalTransaction {
	return transaction.ExternalTransaction{
		ID:         id,
		Amount:     amount,
		Memo:       memoText,
		OccurredAt: baseTime.Add(-5 * time.Minute),
	}
}

func TestRunPassActivatesSubscription(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	h.source.txs = []transaction.ExternalTransaction{externalTx("tx-100", 99000, planMemo)}

	summary, err := h.svc.RunPass(context.Background(), domain.PassRequest{Source: domain.SourceScanner})
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.Activated)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, domain.ReasonActivated, summary.Results[0].Reason)
	assert.Equal(t, planID, summary.Results[0].ReferenceID)

	user := h.user(t, actorID)
	assert.Equal(t, subscriptiondomain.StatusActive, user.SubscriptionStatus)
	require.NotNil(t, user.SubscriptionPlanID)
	assert.Equal(t, planID, *user.SubscriptionPlanID)
	require.NotNil(t, user.SubscriptionRenewalDate)
	assert.True(t, user.SubscriptionRenewalDate.Equal(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)))

	assert.Equal(t, int64(1), testutil.Count(t, h.db, "processed_transactions", "transaction_id = ?", "tx-100"))
	row := h.ledgerRow(t, "tx-100")
	require.NotNil(t, row)
	assert.Equal(t, domain.OutcomeActivated, row.Outcome)
	assert.Equal(t, domain.SourceScanner, row.Source)
	assert.Equal(t, domain.KindSubscription, row.Kind)
	assert.Equal(t, planMemo, row.RawMemo)

	emails := h.sink.sent()
	require.Len(t, emails, 1)
	assert.Equal(t, "aaaa@example.com", emails[0].To)
	assert.Equal(t, email.TemplatePaymentSucceeded, emails[0].Template)
	assert.Equal(t, "99,000", emails[0].Variables["amount"])
	assert.Equal(t, "2026-04-01", emails[0].Variables["renewal_date"])
}

func TestRunPassReplayIsAlreadyProcessed(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	h.source.txs = []transaction.ExternalTransaction{externalTx("tx-100", 99000, planMemo)}
	ctx := context.Background()

	_, err := h.svc.RunPass(ctx, domain.PassRequest{Source: domain.SourceWebhook})
	require.NoError(t, err)
	renewal := *h.user(t, actorID).SubscriptionRenewalDate

	h.clock.Advance(time.Minute)
	summary, err := h.svc.RunPass(ctx, domain.PassRequest{Source: domain.SourceScanner})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Activated)
	assert.Equal(t, 1, summary.AlreadyProcessed)
	assert.Equal(t, domain.OutcomeAlreadyProcessed, summary.Results[0].Outcome)

	assert.True(t, h.user(t, actorID).SubscriptionRenewalDate.Equal(renewal))
	assert.Equal(t, int64(1), testutil.Count(t, h.db, "processed_transactions", ""))
	assert.Equal(t, domain.SourceWebhook, h.ledgerRow(t, "tx-100").Source)
	assert.Len(t, h.sink.sent(), 1)
}

func TestProcessTransactionConcurrentCallersApplyOnce(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusActive, nil)
	tx := externalTx("tx-addon", 50000, "SEVQR ADDON uid:"+actorID+" addonid:0f0f")

	const callers = 8
	results := make([]domain.TransactionResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := domain.SourceScanner
			if i%2 == 0 {
				source = domain.SourceWebhook
			}
			results[i] = h.svc.ProcessTransaction(context.Background(), source, tx)
		}(i)
	}
	wg.Wait()

	activated := 0
	for _, r := range results {
		switch r.Reason {
		case domain.ReasonActivated:
			activated++
		case domain.ReasonAlreadyProcessed:
		default:
			t.Fatalf("unexpected reason %q", r.Reason)
		}
	}
	assert.Equal(t, 1, activated)
	assert.Equal(t, int64(1), testutil.Count(t, h.db, "processed_transactions", "transaction_id = ?", "tx-addon"))
	assert.Equal(t, int64(1), testutil.Count(t, h.db, "addon_purchases", "payment_reference = ?", "tx-addon"))
	assert.Len(t, h.sink.sent(), 1)
}

func TestProcessTransactionConcurrentActivationAppliesOnce(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	tx := externalTx("tx-sub", 99000, planMemo)

	const callers = 8
	results := make([]domain.TransactionResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := domain.SourceWebhook
			if i%2 == 0 {
				source = domain.SourceScanner
			}
			results[i] = h.svc.ProcessTransaction(context.Background(), source, tx)
		}(i)
		h.clock.Advance(time.Hour)
	}
	wg.Wait()

	activated := 0
	for _, r := range results {
		switch r.Reason {
		case domain.ReasonActivated:
			activated++
		case domain.ReasonAlreadyProcessed:
		default:
			t.Fatalf("unexpected reason %q", r.Reason)
		}
	}
	assert.Equal(t, 1, activated)
	assert.Equal(t, int64(1), testutil.Count(t, h.db, "processed_transactions", "transaction_id = ?", "tx-sub"))
	assert.Equal(t, domain.OutcomeActivated, h.ledgerRow(t, "tx-sub").Outcome)

	user := h.user(t, actorID)
	assert.Equal(t, subscriptiondomain.StatusActive, user.SubscriptionStatus)
	require.NotNil(t, user.SubscriptionRenewalDate)
	assert.Equal(t, int64(1), testutil.Count(t, h.db, "users", "id = ? AND subscription_renewal_date IS NOT NULL", actorID))

	emails := h.sink.sent()
	require.Len(t, emails, 1)
	assert.Equal(t, user.SubscriptionRenewalDate.Format("2006-01-02"), emails[0].Variables["renewal_date"])
}

func TestProcessTransactionAmountMismatchIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	ctx := context.Background()

	result := h.svc.ProcessTransaction(ctx, domain.SourceScanner, externalTx("tx-short", 98000, planMemo))
	assert.Equal(t, domain.ReasonAmountMismatch, result.Reason)
	assert.Equal(t, domain.OutcomeSkipped, result.Outcome)
	assert.Equal(t, subscriptiondomain.StatusNone, h.user(t, actorID).SubscriptionStatus)

	row := h.ledgerRow(t, "tx-short")
	require.NotNil(t, row)
	assert.Equal(t, domain.OutcomeSkipped, row.Outcome)
	assert.Equal(t, string(domain.ReasonAmountMismatch), row.Note)

	again := h.svc.ProcessTransaction(ctx, domain.SourceWebhook, externalTx("tx-short", 98000, planMemo))
	assert.Equal(t, domain.ReasonAlreadyProcessed, again.Reason)
	assert.Empty(t, h.sink.sent())
}

func TestProcessTransactionNeverReactivates(t *testing.T) {
	h := newHarness(t)
	renewal := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	h.addUser(t, actorID, subscriptiondomain.StatusActive, &renewal)

	result := h.svc.ProcessTransaction(context.Background(), domain.SourceScanner, externalTx("tx-again", 99000, planMemo))
	assert.Equal(t, domain.ReasonActivationNoop, result.Reason)
	assert.Equal(t, domain.OutcomeSkipped, result.Outcome)

	user := h.user(t, actorID)
	assert.Equal(t, subscriptiondomain.StatusActive, user.SubscriptionStatus)
	assert.True(t, user.SubscriptionRenewalDate.Equal(renewal))

	row := h.ledgerRow(t, "tx-again")
	require.NotNil(t, row)
	assert.Equal(t, domain.OutcomeSkipped, row.Outcome)
	assert.Equal(t, string(domain.ReasonActivationNoop), row.Note)
	assert.Empty(t, h.sink.sent())
}

func TestProcessTransactionNonTerminalWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	missingUser := "bbbbbbbbbbbbbbbbbbbbbbbb"

	cases := []struct {
		name string
		memo string
		want domain.Reason
	}{
		{name: "unrelated", memo: "coffee with friends", want: domain.ReasonUnrelated},
		{name: "extraction failed", memo: "SEVQR uid:1234", want: domain.ReasonExtractionFailed},
		{name: "catalog not found", memo: "SEVQR uid:" + actorID + " planid:dddd", want: domain.ReasonCatalogNotFound},
		{name: "user not found", memo: "SEVQR uid:" + missingUser + " planid:bb11", want: domain.ReasonUserNotFound},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := h.svc.ProcessTransaction(context.Background(), domain.SourceScanner, externalTx(fmt.Sprintf("tx-nt-%d", i), 99000, tc.memo))
			assert.Equal(t, tc.want, result.Reason)
			assert.Empty(t, result.Outcome)
			assert.False(t, tc.want.Terminal())
		})
	}
	assert.Equal(t, int64(0), testutil.Count(t, h.db, "processed_transactions", ""))
	assert.Equal(t, subscriptiondomain.StatusNone, h.user(t, actorID).SubscriptionStatus)
}

func TestProcessTransactionLegacyPurchase(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusActive, nil)
	require.NoError(t, h.db.Exec(
		`INSERT INTO addon_purchases (id, user_id, addon_package_id, package_snapshot, remaining_generations,
			remaining_validations, status, purchase_date, payment_reference, amount_paid)
		 VALUES (1, ?, ?, '{}', 10, 5, 'active', ?, 'tx-legacy', 50000)`,
		actorID, addonID, baseTime.Add(-24*time.Hour),
	).Error)

	result := h.svc.ProcessTransaction(context.Background(), domain.SourceScanner,
		externalTx("tx-legacy", 50000, "SEVQR ADDON uid:"+actorID+" addonid:0f0f"))
	assert.Equal(t, domain.ReasonLegacyPurchase, result.Reason)
	assert.Equal(t, domain.OutcomeAlreadyProcessed, result.Outcome)

	assert.Equal(t, int64(1), testutil.Count(t, h.db, "addon_purchases", "payment_reference = ?", "tx-legacy"))
	row := h.ledgerRow(t, "tx-legacy")
	require.NotNil(t, row)
	assert.Equal(t, domain.OutcomeAlreadyProcessed, row.Outcome)
	assert.Equal(t, string(domain.ReasonLegacyPurchase), row.Note)
	assert.Empty(t, h.sink.sent())
}

func TestProcessTransactionAddonInheritsSubscriptionPeriod(t *testing.T) {
	h := newHarness(t)
	renewal := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	h.addUser(t, actorID, subscriptiondomain.StatusActive, &renewal)

	result := h.svc.ProcessTransaction(context.Background(), domain.SourceWebhook,
		externalTx("tx-boost", 50000, "SEVQR ADDON uid:"+actorID+" addonid:0f0f"))
	require.Equal(t, domain.ReasonActivated, result.Reason)
	assert.Equal(t, domain.KindAddon, result.Kind)

	purchases, err := addonrepository.Provide().ListByUser(context.Background(), h.db, actorID)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	require.NotNil(t, purchases[0].ExpiryDate)
	assert.True(t, purchases[0].ExpiryDate.Equal(renewal))
	assert.Equal(t, 10, purchases[0].RemainingGenerations)

	emails := h.sink.sent()
	require.Len(t, emails, 1)
	assert.Equal(t, email.TemplateAddonPurchased, emails[0].Template)
	assert.Equal(t, "2026-03-31", emails[0].Variables["expiry_date"])
	assert.Equal(t, "50,000", emails[0].Variables["amount"])
}

func TestRunPassUpstreamFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("connection reset")

	_, err := h.svc.RunPass(context.Background(), domain.PassRequest{Source: domain.SourceScanner})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int64(0), testutil.Count(t, h.db, "processed_transactions", ""))
}

func TestRunPassRetryAfterUpstreamFailureActivates(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	h.source.txs = []transaction.ExternalTransaction{externalTx("tx-retry", 99000, planMemo)}
	h.source.err = errors.New("status 503")
	ctx := context.Background()

	_, err := h.svc.RunPass(ctx, domain.PassRequest{Source: domain.SourceWebhook})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, subscriptiondomain.StatusNone, h.user(t, actorID).SubscriptionStatus)

	h.source.err = nil
	summary, err := h.svc.RunPass(ctx, domain.PassRequest{Source: domain.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Activated)
	assert.Equal(t, subscriptiondomain.StatusActive, h.user(t, actorID).SubscriptionStatus)
	assert.Equal(t, domain.SourceWebhook, h.ledgerRow(t, "tx-retry").Source)
}

func TestRunPassFiltersBySince(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	old := externalTx("tx-old", 99000, planMemo)
	old.OccurredAt = baseTime.Add(-2 * time.Hour)
	h.source.txs = []transaction.ExternalTransaction{old}

	summary, err := h.svc.RunPass(context.Background(), domain.PassRequest{
		Source: domain.SourceWebhook,
		Since:  baseTime.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 0, summary.Considered)
	assert.Equal(t, subscriptiondomain.StatusNone, h.user(t, actorID).SubscriptionStatus)
}

func TestRunPassRejectsUnknownSource(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RunPass(context.Background(), domain.PassRequest{Source: "cron"})
	assert.ErrorIs(t, err, domain.ErrInvalidSource)
	assert.Equal(t, 0, h.source.calls)
}

func TestListPagesNewestFirst(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		h.svc.ProcessTransaction(ctx, domain.SourceScanner, externalTx(fmt.Sprintf("tx-%d", i), 1, planMemo))
		h.clock.Advance(time.Second)
	}

	page, err := h.svc.List(ctx, domain.ListRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "tx-3", page.Items[0].TransactionID)
	assert.Equal(t, "tx-2", page.Items[1].TransactionID)
	require.True(t, page.PageInfo.HasMore)

	next, err := h.svc.List(ctx, domain.ListRequest{PageSize: 2, PageToken: page.PageInfo.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, "tx-1", next.Items[0].TransactionID)
	assert.False(t, next.PageInfo.HasMore)

	_, err = h.svc.List(ctx, domain.ListRequest{PageToken: "not-a-token"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestLookup(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, actorID, subscriptiondomain.StatusNone, nil)
	ctx := context.Background()

	_, err := h.svc.Lookup(ctx, "tx-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.svc.ProcessTransaction(ctx, domain.SourceManual, externalTx("tx-100", 99000, planMemo))
	row, err := h.svc.Lookup(ctx, "tx-100")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceManual, row.Source)
	assert.Equal(t, int64(99000), row.Amount)
}

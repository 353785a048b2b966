package webhook

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/lock"
	"github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	"github.com/smallbiznis/paymatch/internal/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) RunPass(ctx context.Context, req domain.PassRequest) (domain.PassSummary, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.PassSummary), args.Error(1)
}

func (m *mockReconciler) ProcessTransaction(ctx context.Context, source domain.Source, tx transaction.ExternalTransaction) domain.TransactionResult {
	return m.Called(ctx, source, tx).Get(0).(domain.TransactionResult)
}

func (m *mockReconciler) Lookup(ctx context.Context, id string) (*domain.ProcessedTransaction, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*domain.ProcessedTransaction), args.Error(1)
}

func (m *mockReconciler) List(ctx context.Context, req domain.ListRequest) (domain.ListResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.ListResult), args.Error(1)
}

func newTestGateway(t *testing.T, reconciler domain.Service) *Gateway {
	t.Helper()
	return NewGateway(Params{
		Config: config.Config{Webhook: config.WebhookConfig{
			Secret:    "topsecret",
			Tolerance: 5 * time.Minute,
			Window:    time.Hour,
		}},
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(now),
		Nonces:     lock.NewMemoryNonceStore(10 * time.Minute),
		Reconciler: reconciler,
	})
}

func TestGatewayRunsWindowedPass(t *testing.T) {
	reconciler := new(mockReconciler)
	reconciler.On("RunPass", mock.Anything, domain.PassRequest{
		Source: domain.SourceWebhook,
		Since:  now.Add(-time.Hour),
	}).Return(domain.PassSummary{RunID: "run-1", Activated: 1}, nil).Once()

	g := newTestGateway(t, reconciler)
	body := []byte(`{"gateway":"bank"}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	summary, err := g.Handle(context.Background(), Request{Body: body, Timestamp: ts, Signature: g.Verifier().Sign(ts, body)})
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	reconciler.AssertExpectations(t)
}

func TestGatewayRejectsBeforeReconciling(t *testing.T) {
	reconciler := new(mockReconciler)
	g := newTestGateway(t, reconciler)

	_, err := g.Handle(context.Background(), Request{Body: []byte("{}"), Signature: "00"})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	reconciler.AssertNotCalled(t, "RunPass", mock.Anything, mock.Anything)
}

func TestGatewayRejectsRepeatedSignature(t *testing.T) {
	reconciler := new(mockReconciler)
	reconciler.On("RunPass", mock.Anything, mock.Anything).Return(domain.PassSummary{}, nil).Once()

	g := newTestGateway(t, reconciler)
	body := []byte("{}")
	ts := strconv.FormatInt(now.Unix(), 10)
	req := Request{Body: body, Timestamp: ts, Signature: g.Verifier().Sign(ts, body)}

	_, err := g.Handle(context.Background(), req)
	require.NoError(t, err)
	_, err = g.Handle(context.Background(), req)
	assert.ErrorIs(t, err, ErrReplayRejected)
	reconciler.AssertNumberOfCalls(t, "RunPass", 1)
}

func TestGatewayPropagatesUpstreamFailure(t *testing.T) {
	reconciler := new(mockReconciler)
	reconciler.On("RunPass", mock.Anything, mock.Anything).Return(domain.PassSummary{}, domain.ErrUpstreamUnavailable).Once()

	g := newTestGateway(t, reconciler)
	body := []byte("{}")
	_, err := g.Handle(context.Background(), Request{Body: body, Signature: g.Verifier().Sign("", body)})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestGatewayAcceptsRetryAfterUpstreamFailure(t *testing.T) {
	reconciler := new(mockReconciler)
	reconciler.On("RunPass", mock.Anything, mock.Anything).Return(domain.PassSummary{}, domain.ErrUpstreamUnavailable).Once()
	reconciler.On("RunPass", mock.Anything, mock.Anything).Return(domain.PassSummary{RunID: "run-2"}, nil).Once()

	g := newTestGateway(t, reconciler)
	body := []byte(`{"id":42}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	req := Request{Body: body, Timestamp: ts, Signature: g.Verifier().Sign(ts, body)}

	_, err := g.Handle(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	summary, err := g.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "run-2", summary.RunID)

	_, err = g.Handle(context.Background(), req)
	assert.ErrorIs(t, err, ErrReplayRejected)
	reconciler.AssertNumberOfCalls(t, "RunPass", 2)
}

func TestGatewayTreatsSignatureEncodingsAsOneDelivery(t *testing.T) {
	reconciler := new(mockReconciler)
	reconciler.On("RunPass", mock.Anything, mock.Anything).Return(domain.PassSummary{}, nil).Once()

	g := newTestGateway(t, reconciler)
	body := []byte(`{"id":7}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := g.Verifier().Sign(ts, body)

	_, err := g.Handle(context.Background(), Request{Body: body, Timestamp: ts, Signature: sig})
	require.NoError(t, err)

	for _, variant := range []string{"sha256=" + sig, strings.ToUpper(sig), "SHA256=" + strings.ToUpper(sig)} {
		_, err := g.Handle(context.Background(), Request{Body: body, Timestamp: ts, Signature: variant})
		assert.ErrorIs(t, err, ErrReplayRejected, variant)
	}
	reconciler.AssertNumberOfCalls(t, "RunPass", 1)
}

package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/lock"
	obsmetrics "github.com/smallbiznis/paymatch/internal/observability/metrics"
	"github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	statusAccepted     = "accepted"
	statusUnauthorized = "unauthorized"
	statusReplay       = "replay"
	statusFailed       = "failed"

	defaultWindow = time.Hour
)

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Nonces     lock.NonceStore
	Reconciler domain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Gateway authenticates callbacks and runs a reconciliation pass over the
// recent window. The callback body is never trusted for transaction data.
type Gateway struct {
	verifier   *Verifier
	nonces     lock.NonceStore
	reconciler domain.Service
	window     time.Duration
	clock      clock.Clock
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewGateway(p Params) *Gateway {
	window := p.Config.Webhook.Window
	if window <= 0 {
		window = defaultWindow
	}
	log := p.Log.Named("webhook")
	verifier := NewVerifier(p.Config.Webhook.Secret, p.Config.Webhook.Tolerance, p.Clock)
	if !verifier.Enabled() {
		log.Warn("webhook secret not configured, signatures are not checked")
	}
	return &Gateway{
		verifier:   verifier,
		nonces:     p.Nonces,
		reconciler: p.Reconciler,
		window:     window,
		clock:      p.Clock,
		log:        log,
		obsMetrics: p.ObsMetrics,
	}
}

func (g *Gateway) Verifier() *Verifier {
	return g.verifier
}

func (g *Gateway) Handle(ctx context.Context, req Request) (domain.PassSummary, error) {
	if err := g.verifier.Verify(req); err != nil {
		status := statusUnauthorized
		if errors.Is(err, ErrReplayRejected) {
			status = statusReplay
		}
		g.obsMetrics.RecordWebhook(status)
		g.log.Warn("webhook rejected", zap.String("status", status), zap.Error(err))
		return domain.PassSummary{}, err
	}

	nonce := NormalizeSignature(req.Signature)
	claimed := false
	if nonce != "" && g.nonces != nil {
		fresh, err := g.nonces.Claim(ctx, nonce)
		switch {
		case err != nil:
			// Freshness already passed; continue without duplicate suppression.
			g.log.Warn("webhook nonce store unavailable", zap.Error(err))
		case !fresh:
			g.obsMetrics.RecordWebhook(statusReplay)
			g.log.Warn("webhook rejected", zap.String("status", statusReplay))
			return domain.PassSummary{}, ErrReplayRejected
		default:
			claimed = true
		}
	}

	summary, err := g.reconciler.RunPass(ctx, domain.PassRequest{
		Source: domain.SourceWebhook,
		Since:  g.clock.Now().Add(-g.window),
	})
	if err != nil {
		g.obsMetrics.RecordWebhook(statusFailed)
		if claimed {
			// Failed passes stay retryable by the sender.
			if relErr := g.nonces.Release(context.WithoutCancel(ctx), nonce); relErr != nil {
				g.log.Warn("webhook nonce release failed", zap.Error(relErr))
			}
		}
		return summary, err
	}
	g.obsMetrics.RecordWebhook(statusAccepted)
	return summary, nil
}

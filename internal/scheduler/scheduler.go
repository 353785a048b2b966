package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	addondomain "github.com/smallbiznis/paymatch/internal/addon/domain"
	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/lock"
	obsmetrics "github.com/smallbiznis/paymatch/internal/observability/metrics"
	"github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReconcileScan = "reconcile_scan"
	JobExpireAddons  = "expire_addons"

	lockKeyPrefix = "paymatch:scheduler:"
)

var (
	ErrInvalidConfig = errors.New("scheduler_invalid_config")
	ErrUnknownJob    = errors.New("scheduler_unknown_job")
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Reconciler domain.Service
	Addon      addondomain.Ledger
	Locker     lock.Locker                  `optional:"true"`
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	reconciler domain.Service
	addon      addondomain.Ledger
	locker     lock.Locker
	metrics    *obsmetrics.SchedulerMetrics
}

type job struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) (int, error)
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Reconciler == nil || p.Addon == nil {
		return nil, ErrInvalidConfig
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.LocalLocker{}
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		reconciler: p.Reconciler,
		addon:      p.Addon,
		locker:     locker,
		metrics:    metrics,
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: JobReconcileScan, timeout: s.cfg.ScanTimeout, run: s.ReconcileScanJob},
		{name: JobExpireAddons, timeout: s.cfg.ExpireTimeout, run: s.ExpireAddonsJob},
	}
}

// runJob runs fn under a per-job lease and a soft deadline. A held lease
// skips the run; a deadline is logged and counted but not returned.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (int, error),
) error {
	ctx, run := s.startJobRun(parent, name)
	log := s.logger(ctx).With(zap.String("job", name))

	key := lockKeyPrefix + name
	token, acquired, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.metrics.IncJobError(name, err)
		s.logSchedulerError(ctx, run, "scheduler.job.lock_failed", err)
		return fmt.Errorf("%s: lock: %w", name, err)
	}
	if !acquired {
		s.metrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		log.Debug("scheduler.job.deferred", zap.String("reason", obsmetrics.SchedulerBatchDeferredReasonLockHeld))
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			log.Warn("scheduler.job.release_failed", zap.Error(err))
		}
	}()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	processed, err := fn(ctx)
	run.AddProcessed(processed)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	s.metrics.AddBatchProcessed(name, resourceOf(name), processed)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j.name, j.timeout, j.run))
	}
	return err
}

// RunJob runs a single named job regardless of EnabledJobs.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs() {
		if strings.EqualFold(j.name, name) {
			return s.runJob(ctx, j.name, j.timeout, j.run)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty means every job runs.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReconcileScanJob runs the catch-up pass over the lookback window.
func (s *Scheduler) ReconcileScanJob(ctx context.Context) (int, error) {
	summary, err := s.reconciler.RunPass(ctx, domain.PassRequest{
		Source: domain.SourceScanner,
		Since:  s.clock.Now().Add(-s.cfg.ScanLookback),
	})
	if err != nil {
		return summary.Considered, err
	}
	if summary.Failed > 0 {
		s.logger(ctx).Warn("reconcile scan had failed transactions",
			zap.String("pass_run_id", summary.RunID),
			zap.Int("failed", summary.Failed),
		)
	}
	return summary.Considered, nil
}

func (s *Scheduler) ExpireAddonsJob(ctx context.Context) (int, error) {
	expired, err := s.addon.ExpireDue(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return int(expired), nil
}

func resourceOf(job string) string {
	switch job {
	case JobReconcileScan:
		return "transactions"
	case JobExpireAddons:
		return "addon_purchases"
	default:
		return "items"
	}
}

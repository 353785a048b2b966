package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "other_pg_error",
			err:  &pgconn.PgError{Code: "42P01"},
			want: SchedulerJobReasonDB,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "paymatch",
		Environment: "test",
	})

	metrics.AddBatchProcessed("reconcile_scan", "transactions", 3)
	metrics.AddBatchProcessed("reconcile_scan", "transactions", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("reconcile_scan", "transactions"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if IsSchedulerErrorRetryable(nil) {
		t.Fatalf("nil error must not be retryable")
	}
	if !IsSchedulerErrorRetryable(context.Canceled) {
		t.Fatalf("expected cancellation to be retryable")
	}
	if IsSchedulerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("record not found must not be retryable")
	}
}

func TestJobErrorAndDeferredCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{})

	metrics.IncBatchDeferred("expire_addons", "lock_held")
	metrics.IncBatchDeferred("expire_addons", "lock_held")
	metrics.IncJobError("reconcile_scan", &pgconn.PgError{Code: "40001"})

	if got := testutil.ToFloat64(metrics.batchDeferred.WithLabelValues("expire_addons", "lock_held")); got != 2 {
		t.Fatalf("expected 2 deferred runs, got %v", got)
	}
	if got, err := testutil.GatherAndCount(registry, "paymatch_scheduler_job_errors_total"); err != nil || got != 1 {
		t.Fatalf("expected one error series, got %d", got)
	}

	var nilMetrics *SchedulerMetrics
	nilMetrics.IncBatchDeferred("expire_addons", "lock_held")
}

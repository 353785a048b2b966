package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	"github.com/smallbiznis/paymatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerRecord(id int64, transactionID string) *domain.ProcessedTransaction {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &domain.ProcessedTransaction{
		ID:            snowflake.ID(id),
		TransactionID: transactionID,
		Source:        domain.SourceScanner,
		Kind:          domain.KindSubscription,
		ActorID:       "aaaaaaaaaaaaaaaaaaaaaaaa",
		ReferenceID:   "bb1100000000000000000001",
		Amount:        99000,
		Outcome:       domain.OutcomeActivated,
		OccurredAt:    at,
		ProcessedAt:   at,
	}
}

func TestClaimIsFirstWriterWins(t *testing.T) {
	conn := testutil.NewDB(t)
	r := Provide()
	ctx := context.Background()

	acquired, err := r.Claim(ctx, conn, ledgerRecord(1, "tx-1"))
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = r.Claim(ctx, conn, ledgerRecord(2, "tx-1"))
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Equal(t, int64(1), testutil.Count(t, conn, "processed_transactions", "transaction_id = ?", "tx-1"))
}

func TestClaimTreatsUniqueViolationAsLost(t *testing.T) {
	conn := testutil.NewDB(t)
	r := Provide()
	ctx := context.Background()

	_, err := r.Claim(ctx, conn, ledgerRecord(7, "tx-a"))
	require.NoError(t, err)

	// The conflict clause targets transaction_id only, so a clashing primary
	// key surfaces as a raw unique violation.
	acquired, err := r.Claim(ctx, conn, ledgerRecord(7, "tx-b"))
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Equal(t, int64(0), testutil.Count(t, conn, "processed_transactions", "transaction_id = ?", "tx-b"))
}

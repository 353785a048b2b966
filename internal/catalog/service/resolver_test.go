package service

import (
	"testing"

	"github.com/smallbiznis/paymatch/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	plans := []domain.SubscriptionPlan{
		{ID: "ab12000000000000000000aa", Price: 99000},
		{ID: "ab34000000000000000000bb", Price: 199000},
		{ID: "cd56000000000000000000cc", Price: 49000},
	}

	cases := []struct {
		name    string
		id      string
		amount  int64
		reject  bool
		wantID  string
		wantErr error
	}{
		{name: "exact", id: "cd56000000000000000000cc", amount: 1, wantID: "cd56000000000000000000cc"},
		{name: "exact ignores case", id: "CD56000000000000000000CC", amount: 1, wantID: "cd56000000000000000000cc"},
		{name: "single prefix", id: "cd56", amount: 1, wantID: "cd56000000000000000000cc"},
		{name: "prefix collision picks amount", id: "ab", amount: 199000, wantID: "ab34000000000000000000bb"},
		{name: "prefix collision falls back to first", id: "ab", amount: 5, wantID: "ab12000000000000000000aa"},
		{name: "prefix collision rejected", id: "ab", amount: 5, reject: true, wantErr: domain.ErrAmbiguousPrefix},
		{name: "no candidates", id: "ef", amount: 99000, wantErr: domain.ErrNotFound},
		{name: "empty id", id: "", amount: 99000, wantErr: domain.ErrNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolve(plans, tc.id, tc.amount, tc.reject)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, got.ID)
		})
	}
}

package memo

import (
	"strings"
	"testing"

	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var actor = strings.Repeat("a", 24)

func TestExtractClassifiesMemos(t *testing.T) {
	ex := NewExtractor(config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig()))

	cases := []struct {
		name    string
		memo    string
		want    Result
		wantErr error
	}{
		{
			name: "subscription",
			memo: "SEVQR uid:" + actor + " planid:bb11",
			want: Result{Kind: KindSubscription, ActorID: actor, CatalogID: "bb11"},
		},
		{
			name: "subscription without punctuation",
			memo: "sevqr UID " + strings.ToUpper(actor) + " PLANID BB11CC",
			want: Result{Kind: KindSubscription, ActorID: actor, CatalogID: "bb11cc"},
		},
		{
			name: "addon",
			memo: "SEVQR ADDON uid:" + actor + " addonid:0f0f0f",
			want: Result{Kind: KindAddon, ActorID: actor, CatalogID: "0f0f0f"},
		},
		{
			name: "unrelated",
			memo: "chuyen tien an trua",
			want: Result{Kind: KindUnrelated},
		},
		{
			name:    "missing catalog id",
			memo:    "SEVQR uid:" + actor,
			want:    Result{Kind: KindSubscription, ActorID: actor},
			wantErr: ErrNoMatch,
		},
		{
			name:    "catalog id too short",
			memo:    "SEVQR uid:" + actor + " planid:bb1",
			want:    Result{Kind: KindSubscription, ActorID: actor},
			wantErr: ErrNoMatch,
		},
		{
			name:    "truncated actor id",
			memo:    "SEVQR uid:aaaa planid:bb11",
			want:    Result{Kind: KindSubscription, CatalogID: "bb11"},
			wantErr: ErrNoMatch,
		},
		{
			name:    "addon id marker alone does not flip kind",
			memo:    "SEVQR uid:" + actor + " addonid:0f0f",
			want:    Result{Kind: KindSubscription, ActorID: actor},
			wantErr: ErrNoMatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ex.Extract(tc.memo)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractFollowsReloadedMarkers(t *testing.T) {
	cfg := config.DefaultReconcileConfig()
	holder := config.NewStaticReconcileConfigHolder(cfg)
	ex := NewExtractor(holder)

	memo := "PAYQR uid:" + actor + " planid:bb11"
	got, err := ex.Extract(memo)
	require.NoError(t, err)
	assert.Equal(t, KindUnrelated, got.Kind)

	cfg.PrimaryMarker = "PAYQR"
	holder.Set(cfg)

	got, err = ex.Extract(memo)
	require.NoError(t, err)
	assert.Equal(t, KindSubscription, got.Kind)
	assert.Equal(t, "bb11", got.CatalogID)
}

func TestExtractNilHolderUsesDefaults(t *testing.T) {
	got, err := NewExtractor(nil).Extract("SEVQR ADDON uid:" + actor + " addonid:abcd")
	require.NoError(t, err)
	assert.Equal(t, KindAddon, got.Kind)
}

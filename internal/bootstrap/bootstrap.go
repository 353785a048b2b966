// Package bootstrap groups the fx modules shared by every paymatch binary.
package bootstrap

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymatch/internal/addon"
	"github.com/smallbiznis/paymatch/internal/catalog"
	"github.com/smallbiznis/paymatch/internal/clock"
	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/lock"
	"github.com/smallbiznis/paymatch/internal/memo"
	"github.com/smallbiznis/paymatch/internal/notification"
	"github.com/smallbiznis/paymatch/internal/observability"
	"github.com/smallbiznis/paymatch/internal/providers"
	"github.com/smallbiznis/paymatch/internal/reconciliation"
	"github.com/smallbiznis/paymatch/internal/subscription"
	"github.com/smallbiznis/paymatch/internal/transaction"
	"github.com/smallbiznis/paymatch/pkg/db"
	"go.uber.org/fx"
)

// Infrastructure is config, logging, tracing, metrics, storage and ids.
var Infrastructure = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(NewSnowflakeNode),
	db.Module,
	clock.Module,
)

// Reconciliation is the payment pipeline and everything it calls.
var Reconciliation = fx.Options(
	lock.Module,
	transaction.Module,
	memo.Module,
	catalog.Module,
	subscription.Module,
	addon.Module,
	providers.Module,
	notification.Module,
	reconciliation.Module,
)

func NewSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}

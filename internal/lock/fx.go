package lock

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paymatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(newRedisClient),
	fx.Provide(newLocker),
	fx.Provide(newNonceStore),
)

// newRedisClient returns nil when no redis address is configured.
func newRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled() {
		log.Info("redis disabled, using local lock and nonce store")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func newLocker(client *redis.Client) Locker {
	if client == nil {
		return LocalLocker{}
	}
	return NewRedisLocker(client)
}

func newNonceStore(cfg config.Config, client *redis.Client) NonceStore {
	ttl := 2 * cfg.Webhook.Tolerance
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if client == nil {
		return NewMemoryNonceStore(ttl)
	}
	return NewRedisNonceStore(client, ttl)
}

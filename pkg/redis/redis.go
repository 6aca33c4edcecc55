package redis

import (
	"context"
	"fmt"
	"time"

	"activations-controlplane/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const (
	pingAttempts = 5
	pingTimeout  = 2 * time.Second
	pingBackoff  = 3 * time.Second
)

// New connects the client shared by the sequence generator, the asynq client
// and readiness checks. Startup fails when redis never answers.
func New(lc fx.Lifecycle, c *config.Config) (*redis.Client, error) {
	zapLog := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.Int("pool_size", c.Redis.PoolSize),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	if err := ping(rdb, zapLog); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	zapLog.Info("[Redis] Connected to Redis")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb, nil
}

func ping(rdb *redis.Client, zapLog *zap.Logger) error {
	var err error
	for i := 1; i <= pingAttempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			return nil
		}

		zapLog.Warn("[Redis] Redis not ready, retrying", zap.Int("attempt", i), zap.Duration("backoff", pingBackoff), zap.Error(err))
		time.Sleep(pingBackoff)
	}
	return fmt.Errorf("redis unreachable after %d attempts: %w", pingAttempts, err)
}

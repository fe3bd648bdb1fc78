package ratelimit

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gymledger/internal/clock"
	"github.com/smallbiznis/gymledger/internal/config"
	obsmetrics "github.com/smallbiznis/gymledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewAttemptStore),
	fx.Provide(NewLocker),
	fx.Provide(NewLimiters),
	fx.Invoke(registerSweeper),
)

// Limiters groups the attempt limiters used by the engine.
type Limiters struct {
	Recipient *AttemptLimiter
}

type LimitersParams struct {
	fx.In

	Cfg        config.Config
	Store      AttemptStore
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewLimiters(p LimitersParams) Limiters {
	rl := p.Cfg.RateLimit
	return Limiters{
		Recipient: NewAttemptLimiter(p.Store, p.Clock, Policy{
			Name:        PolicyReminderRecipient,
			MaxAttempts: rl.RecipientMaxFailures,
			Block:       rl.RecipientBlock,
		}, p.ObsMetrics),
	}
}

// NewRedisClient returns nil when REDIS_ADDR is empty. Callers fall back to
// in-process state.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewAttemptStore(client *redis.Client) AttemptStore {
	if client == nil {
		return NewMemoryStore()
	}
	return NewRedisAttemptStore(client)
}

func registerSweeper(lc fx.Lifecycle, store AttemptStore, c clock.Clock, cfg config.Config, log *zap.Logger) {
	mem, ok := store.(*MemoryStore)
	if !ok {
		return
	}
	interval := cfg.RateLimit.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	sweeper := NewSweeper(mem, c, interval, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

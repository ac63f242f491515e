package app

import (
	"context"
	"fmt"

	"github.com/edgeflare/mimir/pkg/config"
	pg "github.com/edgeflare/mimir/pkg/pgx"
	"github.com/edgeflare/mimir/pkg/redisx"
	"github.com/edgeflare/mimir/pkg/tasks"
	"go.uber.org/zap"
)

// Extension is an optional subsystem loaded by Create.
type Extension interface {
	Name() string
	IsEnabled(cfg *config.Config) bool
	Init(ctx context.Context, a *App) error
	Close(a *App) error
}

// DefaultExtensions returns the extensions in load order.
func DefaultExtensions() []Extension {
	return []Extension{loggingExt{}, databaseExt{}, redisExt{}, tasksExt{}}
}

// loggingExt is configured by the process before Create runs.
type loggingExt struct{}

func (loggingExt) Name() string                     { return "logging" }
func (loggingExt) IsEnabled(*config.Config) bool    { return false }
func (loggingExt) Init(context.Context, *App) error { return nil }
func (loggingExt) Close(*App) error                 { return nil }

type databaseExt struct{}

func (databaseExt) Name() string                      { return "database" }
func (databaseExt) IsEnabled(cfg *config.Config) bool { return cfg.DatabaseConfig.Enabled }

func (databaseExt) Init(ctx context.Context, a *App) error {
	p, err := pg.PoolFromConfig(pg.DefaultPool, a.Config.DatabaseConfig)
	if err != nil {
		return err
	}
	return a.Pools.Add(ctx, p, true)
}

func (databaseExt) Close(a *App) error {
	a.Pools.Close()
	return nil
}

type redisExt struct{}

func (redisExt) Name() string                      { return "redis" }
func (redisExt) IsEnabled(cfg *config.Config) bool { return cfg.RedisConfig.Enabled }

func (redisExt) Init(ctx context.Context, a *App) error {
	client, err := redisx.NewClient(a.Config.RedisConfig)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		a.Logger.Warn("redis is not reachable yet", zap.Error(err))
	}
	if a.Config.EnableClientSideCache {
		a.Logger.Warn("REDIS_ENABLE_CLIENT_SIDE_CACHE is set but client-side caching is not supported; ignoring")
	}
	return a.Redis.Initialize(client)
}

func (redisExt) Close(a *App) error { return a.Redis.Close() }

type tasksExt struct{}

func (tasksExt) Name() string                      { return "tasks" }
func (tasksExt) IsEnabled(cfg *config.Config) bool { return cfg.CeleryConfig.Enabled }

func (tasksExt) Init(_ context.Context, a *App) error {
	// the redis backend falls back to the shared client when CELERY_BROKER_URL is empty
	rdb, _ := a.Redis.Client()
	b, err := tasks.NewBroker(a.Config, rdb, a.Logger)
	if err != nil {
		return fmt.Errorf("task broker: %w", err)
	}
	a.Broker = b
	return nil
}

func (tasksExt) Close(a *App) error {
	if a.Broker == nil {
		return nil
	}
	err := a.Broker.Close()
	a.Broker = nil
	return err
}

package mimir

import (
	"context"
	"errors"
	"strings"

	pg "github.com/edgeflare/mimir/pkg/pgx"
	"github.com/edgeflare/mimir/pkg/rag"
	"github.com/edgeflare/mimir/pkg/redisx"
	"github.com/edgeflare/mimir/pkg/tasks"
	"github.com/edgeflare/mimir/pkg/vectorstore"
	"github.com/redis/go-redis/v9"
)

// vectorStoreConn opens the database pool when VECTOR_STORE=pgvector. The returned manager is
// never nil and must be closed.
func vectorStoreConn(ctx context.Context) (pg.Conn, *pg.PoolManager, error) {
	pools := pg.NewPoolManager(logger)
	if !strings.EqualFold(cfg.VectorStore, vectorstore.TypePGVector) {
		return nil, pools, nil
	}
	p, err := pg.PoolFromConfig(pg.DefaultPool, cfg.DatabaseConfig)
	if err != nil {
		return nil, pools, err
	}
	if err := pools.Add(ctx, p); err != nil {
		return nil, pools, err
	}
	pool, err := pools.Active()
	if err != nil {
		return nil, pools, err
	}
	return pool, pools, nil
}

// pipelineOptions returns the build options for the configured pipeline.
func pipelineOptions(conn pg.Conn) []rag.Option {
	opts := []rag.Option{rag.WithLogger(logger)}
	if conn != nil {
		opts = append(opts, rag.WithConn(conn))
	}
	return opts
}

// taskBroker connects the broker named by CELERY_BACKEND. The redis client comes from the
// REDIS_* settings unless CELERY_BROKER_URL names one.
func taskBroker() (tasks.Broker, error) {
	var rdb redis.UniversalClient
	if cfg.RedisConfig.Enabled {
		client, err := redisx.NewClient(cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		if err := redisx.Shared.Initialize(client); err != nil {
			return nil, err
		}
		rdb = client
	}
	b, err := tasks.NewBroker(cfg, rdb, logger)
	if err != nil {
		_ = redisx.Shared.Close()
		return nil, err
	}
	return closingBroker{Broker: b}, nil
}

// closingBroker also releases the shared redis client.
type closingBroker struct {
	tasks.Broker
}

func (b closingBroker) Close() error {
	return errors.Join(b.Broker.Close(), redisx.Shared.Close())
}

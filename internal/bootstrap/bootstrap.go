// Package bootstrap builds the engine from configuration for the cmd entry points.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"warehouse-ledger/internal/app"
	"warehouse-ledger/internal/config"
	"warehouse-ledger/internal/core"
	"warehouse-ledger/internal/db"
	"warehouse-ledger/internal/notify"
	"warehouse-ledger/internal/store/memstore"
	"warehouse-ledger/internal/store/pgstore"
)

const sweepLockKey = "warehouse-ledger:expiry-sweep"

// Runtime is a wired engine plus the connections it owns.
type Runtime struct {
	Engine  *app.Engine
	Service app.ApplicationService
	Store   core.Store

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Open connects the configured store and Redis (when REDIS_ADDRESS is set) and wires
// every service. The caller must Close the runtime.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Runtime, error) {
	rt := &Runtime{}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		rt.pool = pool
		rt.Store = pgstore.New(pool)
	default:
		logger.Warn("using the in-memory store; stock is lost on exit")
		rt.Store = memstore.New()
	}

	notifiers := notify.Fanout{notify.NewLogNotifier(logger.WithField("component", "events"))}
	var lock core.SweepLock
	if cfg.RedisAddress != "" {
		client, err := notify.Connect(ctx, cfg.RedisAddress)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
		notifiers = append(notifiers, notify.NewRedisPublisher(client, cfg.RedisEventsChannel, logger))
		lock = notify.NewRedisSweepLock(client, sweepLockKey, cfg.SweepInterval, logger)
	}

	rt.Engine = app.New(rt.Store, notifiers, app.Options{
		ShipmentReservationTTL: cfg.ShipmentReservationTTL,
		BatchReservationTTL:    cfg.BatchReservationTTL,
		SweepInterval:          cfg.SweepInterval,
		SweepBatchSize:         cfg.SweepBatchSize,
		SweepLock:              lock,
		Logger:                 logger.WithField("component", "sweeper"),
	})
	rt.Service = app.NewAppService(rt.Engine)
	return rt, nil
}

// Migrate applies the PostgreSQL schema. It fails for the in-memory store.
func (rt *Runtime) Migrate(ctx context.Context) error {
	pg, ok := rt.Store.(*pgstore.Store)
	if !ok {
		return fmt.Errorf("migrate needs STORE_DRIVER=%s", config.StorePostgres)
	}
	return pg.Migrate(ctx)
}

// Close releases the database pool and Redis client.
func (rt *Runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

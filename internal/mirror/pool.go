package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// The mirror receives at most one insert per second from a single goroutine.
const (
	maxConns          = 2
	healthCheckPeriod = time.Minute
)

// NewPool creates the mirror's PostgreSQL pool. The database is pinged on app
// start and the pool is closed on app stop.
func NewPool(lc fx.Lifecycle, logger *zap.Logger, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("[MIRROR] failed to parse database URL: %w", err)
	}
	config.MaxConns = maxConns
	config.HealthCheckPeriod = healthCheckPeriod

	logger = logger.With(zap.String("mirror", target(config)))
	logger.Info("initializing mirror database connection pool")

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("[MIRROR] failed to create connection pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				logger.Error("mirror database ping failed", zap.Error(err))
				return fmt.Errorf("[MIRROR CONNECTION FAILED] cannot reach %s, check MIRROR_DATABASE_URL: %w", target(config), err)
			}
			logger.Info("mirror database connection established")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("mirror database connection closed")
			return nil
		},
	})

	return pool, nil
}

// target renders host:port/database for logs. Credentials never appear.
func target(config *pgxpool.Config) string {
	cc := config.ConnConfig
	return fmt.Sprintf("%s:%d/%s", cc.Host, cc.Port, cc.Database)
}

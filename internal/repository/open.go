package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"asset-approval/backend/internal/config"
)

// Open connects to the store selected by cfg.DB.Driver. The caller owns the
// returned repository and must Close it.
func Open(ctx context.Context, cfg *config.Config) (Repository, error) {
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.DB.SQLitePath)
	case config.DriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to parse database config: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DB.Driver)
	}
}

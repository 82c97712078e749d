package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/logger"
)

const (
	connectTimeout = 5 * time.Second
	healthTimeout  = 3 * time.Second
)

// DB is the Postgres pool backing the upload log
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New opens a pool for cfg and pings it once
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected",
		"host", cfg.Database.Host,
		"db", cfg.Database.Database,
		"max_conns", poolConfig.MaxConns,
	)
	return &DB{Pool: pool, log: log}, nil
}

func poolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	d := cfg.Database
	pc.MaxConns = int32(d.MaxConns)
	pc.MinConns = int32(d.MinConns)
	pc.MaxConnLifetime = d.MaxLifetime
	pc.MaxConnIdleTime = d.MaxIdleTime
	return pc, nil
}

// Close closes the pool
func (db *DB) Close() {
	stat := db.Pool.Stat()
	db.log.Info("closing database connection pool", "total_conns", stat.TotalConns(), "acquired", stat.AcquiredConns())
	db.Pool.Close()
}

// Health pings the database with a short timeout
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

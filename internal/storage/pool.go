// Package storage provides the PostgreSQL storage layer for Kakoi.
//
// It owns the single process-wide connection pool (explicitly constructed,
// explicitly closed; no import-time side effects), the forward-only
// migration runner, and query methods for all tables. All tenant-owned
// data flows through the scoped transaction helper in scoped.go, which is
// the one enforcement choke point.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultAcquireTimeout bounds how long a caller may wait for a pooled
// connection. Pool exhaustion surfaces as a timeout error, never as an
// indefinite hang.
const DefaultAcquireTimeout = 5 * time.Second

// DB wraps a pgxpool.Pool and the acquire timeout applied to every
// checkout.
type DB struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// New creates a DB with a connection pool and pings it.
// acquireTimeout <= 0 falls back to DefaultAcquireTimeout.
func New(ctx context.Context, dsn string, acquireTimeout time.Duration, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	return &DB{
		pool:           pool,
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

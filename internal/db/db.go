// Package db implements the license store and verification event log on
// PostgreSQL using pgx.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PoolSize bounds the connection pool. Zero fields keep the pgx defaults.
type PoolSize struct {
	MaxConns int32
	MinConns int32
}

// DB is the PostgreSQL backend. Store methods live in store_*.go.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open connects to url and fails unless the server answers a ping.
func Open(ctx context.Context, url string, size PoolSize, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if size.MaxConns > 0 {
		poolConfig.MaxConns = size.MaxConns
	}
	if size.MinConns > 0 {
		poolConfig.MinConns = min(size.MinConns, poolConfig.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := &DB{
		Pool:   pool,
		logger: logger.With().Str("component", "postgres_store").Logger(),
	}
	db.logger.Info().
		Int32("max_conns", poolConfig.MaxConns).
		Int32("min_conns", poolConfig.MinConns).
		Msg("postgres license store connected")
	return db, nil
}

// Driver names the backend for health and version output.
func (db *DB) Driver() string {
	return "postgres"
}

// Ping checks that a pooled connection still reaches the server.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Health reports pool usage with the same keys as the sqlite store.
func (db *DB) Health() map[string]any {
	stats := db.Pool.Stat()
	return map[string]any{
		"driver":           db.Driver(),
		"max_conns":        stats.MaxConns(),
		"open_connections": stats.TotalConns(),
		"in_use":           stats.AcquiredConns(),
		"idle":             stats.IdleConns(),
		"wait_count":       stats.EmptyAcquireCount(),
	}
}

// Close releases every pooled connection.
func (db *DB) Close() {
	db.Pool.Close()
	db.logger.Debug().Msg("postgres pool closed")
}

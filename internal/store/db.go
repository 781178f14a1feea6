// Package store is the PostgreSQL persistence gateway.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect creates a pgx pool for dsn and verifies it with a ping.
// maxConns <= 0 keeps the pool default.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 60 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// normalizeDSN strips driver suffixes such as "+asyncpg" that other
// ecosystems put in connection URLs.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, scheme := range []string{"postgresql", "postgres"} {
		for _, driver := range []string{"+asyncpg", "+pgx", "+psycopg2"} {
			s = strings.Replace(s, scheme+driver+"://", scheme+"://", 1)
		}
	}
	return s
}

// Package postgres builds the pgx connection pool and its query tracer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pingTimeout     = 5 * time.Second
	maxConnLifetime = 30 * time.Minute
)

// NewPool parses url, installs the otel and logging tracers and verifies the
// connection with a ping.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(url)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// PoolConfig parses url into a pool config with tracing attached.
func PoolConfig(url string) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConnLifetime == 0 || pc.MaxConnLifetime > maxConnLifetime {
		pc.MaxConnLifetime = maxConnLifetime
	}
	pc.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer())
	return pc, nil
}

// Package postgres implements the relational storage engine: one table
// per dictionary, dynamic SQL built from the engine-neutral query tree,
// and the dict/version_scheme metadata tables.
package postgres

import (
	"context"
	"fmt"

	"dictstore/src/backends"
	"dictstore/src/settings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Backend is the Postgres engine. It carries the pgx pool, the DDL
// transaction registrar and the ambient logger/settings, following the
// same constructor shape as every other engine.
type Backend struct {
	pool      *pgxpool.Pool
	registrar backends.TransactionRegistrar
	logger    *zap.SugaredLogger
	settings  *settings.Arguments
}

func NewBackend(pool *pgxpool.Pool, registrar backends.TransactionRegistrar,
	logger *zap.SugaredLogger, args *settings.Arguments) *Backend {
	return &Backend{
		pool:      pool,
		registrar: registrar,
		logger:    logger,
		settings:  args,
	}
}

// Connect opens a pool from the configured DSN.
func Connect(ctx context.Context, args *settings.Arguments) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, args.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return pool, nil
}

func (b *Backend) EngineName() string { return "postgres" }

func (b *Backend) SchemaBackend() backends.SchemaBackend { return b }
func (b *Backend) DataBackend() backends.DataBackend     { return b }

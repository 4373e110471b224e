// Package postgres implements the domain repositories on top of pgx.
package postgres

import (
	"context"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-placement/db"
)

// DB is the query surface shared by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
// Repositories accept it so the same code runs against a pool, a single
// request-scoped connection, or a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ DB = (*pgxpool.Pool)(nil)
	_ DB = (*pgxpool.Conn)(nil)
	_ DB = (pgx.Tx)(nil)
)

// ParseConfig parses databaseURL into a pool configuration with
// shopspring/decimal support for NUMERIC columns.
func ParseConfig(databaseURL string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	return cfg, nil
}

// NewPool creates a pgxpool.Pool for databaseURL. Connections are opened
// lazily on first acquire.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema.
func RunMigrations(ctx context.Context, q DB) error {
	if _, err := q.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

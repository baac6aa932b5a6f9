// Package postgres implements the scoring store on PostgreSQL.
// Units of work run in READ COMMITTED transactions serialized per student
// by a transaction-scoped advisory lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConnectionClosed is returned by Ping after Close.
var ErrConnectionClosed = errors.New("postgres: connection pool is closed")

// PoolSettings overrides pool sizing on top of the URL's pool_* parameters.
// Zero fields keep what the URL or pgxpool decided.
type PoolSettings struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Querier is implemented by *Connection and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connection is a pgx pool verified with a ping at construction.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// Connect parses a postgres:// URL, applies settings and pings the server.
func Connect(ctx context.Context, databaseURL string, settings PoolSettings) (*Connection, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}

	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	cfg.MaxConnLifetime = time.Hour
	if settings.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = settings.MaxConnLifetime
	}
	if settings.MaxConns > 0 {
		cfg.MaxConns = settings.MaxConns
	}
	if settings.MinConns > 0 && settings.MinConns <= cfg.MaxConns {
		cfg.MinConns = settings.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Pool exposes the pgx pool.
func (c *Connection) Pool() *pgxpool.Pool { return c.pool }

// Close closes the pool once.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// Ping checks that a connection can be acquired and used.
func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.pool.Exec(ctx, sql, args...)
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.pool.Query(ctx, sql, args...)
}

func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

var readCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}

// WithTx runs fn in a transaction. fn's error or panic rolls it back.
func (c *Connection) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, c.pool, opts, fn)
}

// SQLSTATE codes the store inspects.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
	codeRaiseException  = "P0001"
)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique or primary key conflict.
func IsUniqueViolation(err error) bool { return sqlState(err) == codeUniqueViolation }

// IsCheckViolation reports a failed CHECK constraint.
func IsCheckViolation(err error) bool { return sqlState(err) == codeCheckViolation }

// IsRaisedException reports an error raised by a trigger, e.g. a write to
// the append-only transaction log.
func IsRaisedException(err error) bool { return sqlState(err) == codeRaiseException }

// IsNoRows reports an empty single-row result.
func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

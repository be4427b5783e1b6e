// Package database wires the connection pools both halves of the
// persistence layer need: pgxpool for transactional writes and row
// locking, sqlx over lib/pq for the read-mostly repository queries.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/config"
	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
)

// NewPool opens a pgxpool sized from cfg, used for transactional writes
// and SELECT ... FOR UPDATE row locking during pipeline runs.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewSQLX opens an sqlx.DB over lib/pq, used for the repository layer's
// read-mostly queries (taxonomy, contracts, rate cards, guidelines).
func NewSQLX(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlx database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return db, nil
}

// txCtxKey carries the open transaction on ctx, so collaborators whose
// interface predates a tx parameter (audit.Store) can still join the
// caller's transaction instead of writing on a separate connection.
type txCtxKey struct{}

// ContextWithTx attaches tx to ctx.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// TxFromContext retrieves a transaction attached by ContextWithTx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txCtxKey{}).(pgx.Tx)
	return tx, ok
}

// WithTx runs fn inside a pgx transaction, committing on a nil return and
// rolling back otherwise. It is the only way pipeline code should group
// the multi-table writes a single invoice run produces. fn's ctx carries
// the transaction (see ContextWithTx), so a ctx-only collaborator such as
// audit.Store still lands its write inside the same transaction.
func WithTx(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	ctx = ContextWithTx(ctx, tx)

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && logger != nil {
			logger.Warn("transaction rollback failed",
				logging.NewFields().Component("database").Operation("rollback").Error(rbErr).Build()...)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DefaultLockTimeout is a bound for how long a SELECT ... FOR UPDATE may
// wait behind a concurrent pipeline run on the same invoice. Neither
// LockInvoice nor WithTx applies it: a lock wait lasts until the holding
// transaction ends or ctx is cancelled.
const DefaultLockTimeout = 5 * time.Second

// PoolTransactor adapts a pgxpool.Pool to the orchestrator's Transactor
// interface, so pipeline code depends on a narrow seam instead of the
// concrete pool type.
type PoolTransactor struct {
	Pool   *pgxpool.Pool
	Logger *zap.Logger
}

func NewPoolTransactor(pool *pgxpool.Pool, logger *zap.Logger) *PoolTransactor {
	return &PoolTransactor{Pool: pool, Logger: logger}
}

func (t *PoolTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return WithTx(ctx, t.Pool, t.Logger, fn)
}

// Package repository is the postgres-backed persistence layer: sqlx over
// lib/pq for the read-mostly reference-data queries (taxonomy, rate
// cards, mapping rules) and pgx for the reads and transactional writes a
// pipeline run or a lifecycle transition makes, contracts and guidelines
// included. It is the one place domain.* entities cross into SQL and back.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/audit"
	"github.com/mzemanski-eng/claims-ebilling/internal/orchestrator"
	"github.com/mzemanski-eng/claims-ebilling/internal/ratevalidation"
)

// Repository groups every query and write the core needs against
// postgres. It satisfies orchestrator.Store, classification's
// MappingRuleRepository, ratevalidation.RateCardLookup, and audit.Store,
// so callers wire one value wherever any of those narrower interfaces is
// expected. classification.MappingRuleWriter is satisfied by
// txMappingRuleWriter, bound to one transaction.
type Repository struct {
	db     *sqlx.DB
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New builds a Repository over both halves of the connection layer.
func New(db *sqlx.DB, pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	return &Repository{db: db, pool: pool, logger: logger}
}

// querier is satisfied by both pgx.Tx and *pgxpool.Pool, so a handful of
// helpers below can run against either an open transaction or directly
// against the pool for reads that don't need one.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgx.CommandTag, error)
}

// txOrPool resolves a querier for a (ctx, tx) pair from the orchestrator
// surface: tx is always supplied by that caller, but several repository
// methods are also reachable with a nil tx from tests or standalone
// callers, in which case the pool is used directly.
func (r *Repository) txOrPool(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.pool
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("repository: %s: %w", op, err)
}

// parseDecimalStr parses a numeric column read through sqlx (which hands
// back postgres NUMERIC as a string) into a decimal.Decimal.
func parseDecimalStr(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

var (
	_ orchestrator.Store          = (*Repository)(nil)
	_ audit.Store                 = (*Repository)(nil)
	_ ratevalidation.RateCardLookup = (*Repository)(nil)
)

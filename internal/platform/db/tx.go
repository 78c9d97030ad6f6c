package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// WithTx executes fn within a READ COMMITTED transaction. When ctx already
// carries a transaction, fn joins it and commit is left to the outer caller.
// Row locks taken with SELECT ... FOR UPDATE are held until the outermost commit.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	if pool == nil {
		return errors.New("platform/db: pool not initialised")
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCtx, hooks := WithCommitHooks(context.WithValue(ctx, txKey{}, tx))
	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	hooks.Run()

	return nil
}

// Conn returns the transaction bound to ctx or the pool itself.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return pool
}

// Transactor opens units of work that repositories join through the context.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor constructs a Transactor.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTx runs fn inside a single database transaction.
func (t *Transactor) InTx(ctx context.Context, fn func(context.Context) error) error {
	if t == nil {
		return errors.New("platform/db: transactor not initialised")
	}
	return WithTx(ctx, t.pool, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	})
}

// IsUniqueViolation reports whether err is a unique constraint failure,
// optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

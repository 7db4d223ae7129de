package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// cashLedgerLockKey serializes appends to the cash ledger tail.
const cashLedgerLockKey = 5150001

// DB bundles the connection pool with the transaction budget shared by all core services.
type DB struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
}

// NewDB wraps pool. A zero txTimeout disables the per-transaction budget.
func NewDB(pool *pgxpool.Pool, txTimeout time.Duration) *DB {
	return &DB{pool: pool, txTimeout: txTimeout}
}

func (d *DB) Pool() *pgxpool.Pool { return d.pool }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// inTx runs fn inside one serializable transaction. Any error from fn rolls
// everything back; store failures are translated by classifyStoreError.
func (d *DB) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if d.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.txTimeout)
		defer cancel()
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classifyStoreError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return classifyStoreError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyStoreError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

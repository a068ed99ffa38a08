// Package dbx holds the transaction plumbing shared by repositories: the
// DBTX interface satisfied by *sql.DB and *sql.Tx, transaction helpers with
// Postgres advisory locking, and an in-process keyed lock for stores that
// are not backed by a database.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the subset of database/sql used by our repos.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back on error or panic; panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}

const advisoryLockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

// WithLockedTx is WithTx that first takes a transaction-scoped Postgres
// advisory lock per key. Keys are locked in sorted order, so two callers
// sharing keys cannot deadlock; the locks are released at commit or rollback.
func WithLockedTx(ctx context.Context, db *sql.DB, keys []string, fn func(ctx context.Context, tx DBTX) error) error {
	return WithTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		for _, k := range SortedUnique(keys) {
			if _, err := tx.ExecContext(ctx, advisoryLockQuery, k); err != nil {
				return fmt.Errorf("lock %s: %w", k, err)
			}
		}
		return fn(ctx, tx)
	})
}

package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/dbx"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
)

// PostgresStore runs each critical section as one SQL transaction. Lock
// keys become transaction-scoped advisory locks taken in sorted order, so
// sections on different server instances exclude each other as well.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Atomically(ctx context.Context, keys []string, fn func(ctx context.Context, repo Repository) error) error {
	return dbx.WithLockedTx(ctx, s.db, keys, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, NewPostgresRepository(tx))
	})
}

func (s *PostgresStore) Get(ctx context.Context, username string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE username = $1
	`
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Account, error) {
	return NewPostgresRepository(s.db).List(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

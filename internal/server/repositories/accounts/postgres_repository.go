package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/dbx"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx). Inside PostgresStore.Atomically it always runs on a
// transaction.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, username, credential_hash, paid_until, machines, pending_machine, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a         models.Account
		paidUntil sql.NullTime
		machines  []byte
		pending   sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Username, &a.CredentialHash, &paidUntil, &machines, &pending, &a.CreatedAt); err != nil {
		return nil, err
	}
	if paidUntil.Valid {
		t := paidUntil.Time
		a.PaidUntil = &t
	}
	a.Machines = make(map[string]time.Time)
	if len(machines) > 0 {
		if err := json.Unmarshal(machines, &a.Machines); err != nil {
			return nil, fmt.Errorf("decode machines: %w", err)
		}
	}
	if pending.Valid {
		a.PendingMachine = pending.String
	}
	return &a, nil
}

func accountArgs(a *models.Account) (paidUntil sql.NullTime, machines []byte, pending sql.NullString, err error) {
	if a.PaidUntil != nil {
		paidUntil = sql.NullTime{Time: *a.PaidUntil, Valid: true}
	}
	m := a.Machines
	if m == nil {
		m = map[string]time.Time{}
	}
	machines, err = json.Marshal(m)
	if err != nil {
		return
	}
	if a.PendingMachine != "" {
		pending = sql.NullString{String: a.PendingMachine, Valid: true}
	}
	return
}

// Get returns the account row, locking it when called inside a transaction.
// If not found, it returns common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, username string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE username = $1
		FOR UPDATE
	`
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// Insert adds a new account. A taken username yields common.ErrAlreadyExists.
func (r *PostgresRepository) Insert(ctx context.Context, a *models.Account) error {
	paidUntil, machines, pending, err := accountArgs(a)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	query := `
		INSERT INTO accounts (id, username, credential_hash, paid_until, machines, pending_machine, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (username) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, a.ID, a.Username, a.CredentialHash, paidUntil, machines, pending, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyExists
	}
	return nil
}

// Save overwrites the mutable columns of an existing account.
func (r *PostgresRepository) Save(ctx context.Context, a *models.Account) error {
	paidUntil, machines, pending, err := accountArgs(a)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	query := `
		UPDATE accounts
		SET credential_hash = $2, paid_until = $3, machines = $4, pending_machine = $5
		WHERE username = $1
	`
	res, err := r.db.ExecContext(ctx, query, a.Username, a.CredentialHash, paidUntil, machines, pending)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// Delete removes the account row.
func (r *PostgresRepository) Delete(ctx context.Context, username string) error {
	query := `
		DELETE FROM accounts
		WHERE username = $1
	`
	res, err := r.db.ExecContext(ctx, query, username)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// CountTrialUsers counts trial rows bound or pending to fp.
func (r *PostgresRepository) CountTrialUsers(ctx context.Context, fp string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM accounts
		WHERE paid_until IS NULL
		  AND (pending_machine = $1 OR machines ? $1)
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, fp).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// List returns all accounts ordered by username.
func (r *PostgresRepository) List(ctx context.Context) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		ORDER BY username
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

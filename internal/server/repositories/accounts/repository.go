// Package accounts stores entitlement records. Every check-then-act
// sequence runs inside Store.Atomically, which serializes callers that
// share a lock key.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
)

// Repository is the view of the account table inside one critical section.
// Writes become visible to other callers only when the section commits.
type Repository interface {
	// Get returns a copy of the account or common.ErrorNotFound.
	Get(ctx context.Context, username string) (*models.Account, error)
	// Insert adds a new account or fails with common.ErrAlreadyExists.
	Insert(ctx context.Context, acct *models.Account) error
	// Save replaces an existing account or fails with common.ErrorNotFound.
	Save(ctx context.Context, acct *models.Account) error
	// Delete removes an account or fails with common.ErrorNotFound.
	Delete(ctx context.Context, username string) error
	// CountTrialUsers returns the number of trial accounts whose bound
	// machines contain fp or whose pending machine equals fp.
	CountTrialUsers(ctx context.Context, fp string) (int, error)
}

// Store owns the account records.
type Store interface {
	// Atomically holds every key for the duration of fn and commits the
	// writes fn made only if it returns nil. A failed commit leaves the
	// previous state untouched.
	Atomically(ctx context.Context, keys []string, fn func(ctx context.Context, repo Repository) error) error
	// Get reads one account outside any critical section.
	Get(ctx context.Context, username string) (*models.Account, error)
	// List returns a snapshot of all accounts ordered by username.
	List(ctx context.Context) ([]*models.Account, error)
	Close() error
}

// AccountKey is the lock key guarding one username.
func AccountKey(username string) string {
	return "acct:" + username
}

// FingerprintKey is the lock key guarding the trial quota of one machine.
func FingerprintKey(fp string) string {
	return "fp:" + fp
}

// Package sessions stores the server-side state behind bearer tokens.
// Implementations must make each call atomic on its own; Rename must move
// every session of a user in one step.
package sessions

import (
	"context"

	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	// Find returns the session or common.ErrorNotFound.
	Find(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	// DeleteByUser removes every session of username and reports how many.
	DeleteByUser(ctx context.Context, username string) (int, error)
	// Rename reassigns every session of from to to and reports how many.
	Rename(ctx context.Context, from, to string) (int, error)
}

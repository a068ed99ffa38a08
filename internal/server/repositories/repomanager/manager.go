package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/licensekeeper/internal/dbx"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/licensekeeper/internal/server/repositories/sessions"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db *sql.DB) accounts.Store
	Sessions(db dbx.DBTX) sessions.Repository
}

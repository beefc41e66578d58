package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/recordguard/internal/dbx"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/auditlogs"
)

// RepositoryManager vends repositories bound to either a pool or a
// transaction, so services can compose several writes in one dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	AuditLogs(db dbx.DBTX) auditlogs.Repository
}

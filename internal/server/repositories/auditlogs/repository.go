// Package auditlogs stores audit ledger entries. Entries are append-only:
// the repository exposes no update or delete.
package auditlogs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/server/models"
)

// Filter narrows a Search. Zero values are ignored.
type Filter struct {
	Operation    string
	ResourceType string
	ActorID      string
	Keyword      string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

type Repository interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	GetByID(ctx context.Context, id string) (*models.AuditLogEntry, error)
	// ListBetween returns entries with from <= created_at <= to, oldest first.
	ListBetween(ctx context.Context, from, to time.Time) ([]*models.AuditLogEntry, error)
	// ForEach streams every entry created at or before until, oldest first.
	// Iteration stops at the first error returned by fn.
	ForEach(ctx context.Context, until time.Time, fn func(*models.AuditLogEntry) error) error
	Search(ctx context.Context, f Filter) ([]*models.AuditLogEntry, error)
}

// Package accounts persists the account attributes the security core owns:
// stored credential, lockout counters, password and login timestamps, and
// role membership.
package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	AddRole(ctx context.Context, accountID, role string) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	// GetForUpdate loads the account and row-locks it until the surrounding
	// transaction ends. It must be called on a transactional handle.
	GetForUpdate(ctx context.Context, id string) (*models.Account, error)
	UpdateSecurityState(ctx context.Context, id string, state models.AccountSecurityState) error
	UpdateCredential(ctx context.Context, id, credential string, changedAt time.Time, changeRequired bool) error
	HasRole(ctx context.Context, id, role string) (bool, error)
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/dbx"
	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/server/config"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/repomanager"
)

// AccessGuard owns the per-account lockout, session and password-expiry
// state. Every read-modify-write runs in a transaction holding the account
// row lock so concurrent requests cannot lose updates.
type AccessGuard struct {
	db                *sql.DB
	repomanager       repomanager.RepositoryManager
	auditor           Auditor
	logger            logging.Logger
	maxAttempts       int
	lockDuration      time.Duration
	sessionTimeout    time.Duration
	passwordExpiry    time.Duration
	passwordChangeOps map[string]struct{}
	now               func() time.Time
}

func NewAccessGuard(db *sql.DB, m repomanager.RepositoryManager, auditor Auditor, cfg *config.Config, logger logging.Logger) *AccessGuard {
	ops := make(map[string]struct{}, len(cfg.PasswordChangeOperations))
	for _, op := range cfg.PasswordChangeOperations {
		ops[op] = struct{}{}
	}
	return &AccessGuard{
		db:                db,
		repomanager:       m,
		auditor:           auditor,
		logger:            logger.With("module", "access_guard"),
		maxAttempts:       cfg.MaxLoginAttempts,
		lockDuration:      cfg.LockDuration,
		sessionTimeout:    cfg.SessionTimeout,
		passwordExpiry:    cfg.PasswordExpiry,
		passwordChangeOps: ops,
		now:               time.Now,
	}
}

// mutate loads the account under a row lock, lets fn edit its security
// state and persists the result when fn reports a change.
func (g *AccessGuard) mutate(ctx context.Context, accountID string, fn func(a *models.Account, st *models.AccountSecurityState) (bool, error)) (*models.Account, error) {
	var out *models.Account
	err := dbx.WithTx(ctx, g.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := g.repomanager.Accounts(tx)

		a, err := repo.GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		st := a.Security
		changed, err := fn(a, &st)
		if err != nil {
			return err
		}
		if changed {
			if err := repo.UpdateSecurityState(ctx, accountID, st); err != nil {
				return err
			}
			a.Security = st
		}
		out = a
		return nil
	})
	return out, err
}

// RecordFailure counts a failed authentication and locks the account once
// the threshold is reached. It reports whether this call locked it.
func (g *AccessGuard) RecordFailure(ctx context.Context, accountID, ip, reason string) (bool, error) {
	var lockedNow bool
	a, err := g.mutate(ctx, accountID, func(_ *models.Account, st *models.AccountSecurityState) (bool, error) {
		st.FailedAttempts++
		if !st.Locked && st.FailedAttempts >= g.maxAttempts {
			now := g.now()
			st.Locked = true
			st.LockedAt = &now
			lockedNow = true
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("record login failure: %w", err)
	}

	actor := Actor{ID: a.ID, DisplayName: a.DisplayName}
	if lockedNow {
		g.logger.Warn(ctx, "account locked", "account_id", a.ID, "attempts", a.Security.FailedAttempts)
		if err := g.audit(ctx, Event{
			Operation: OpAccountLocked, ResourceType: ResourceUser, ResourceID: a.ID, Actor: actor,
			Details: fmt.Sprintf("locked after %d failed attempts", a.Security.FailedAttempts),
			Success: true, SourceIP: ip,
		}); err != nil {
			return lockedNow, err
		}
	}

	err = g.audit(ctx, Event{
		Operation: OpLoginFailed, ResourceType: ResourceUser, ResourceID: a.ID, Actor: actor,
		Details:      fmt.Sprintf("failed attempt %d of %d", a.Security.FailedAttempts, g.maxAttempts),
		ErrorMessage: reason, SourceIP: ip,
	})
	return lockedNow, err
}

// RecordSuccess resets the failure counter and starts a new session.
func (g *AccessGuard) RecordSuccess(ctx context.Context, accountID, ip string) error {
	a, err := g.mutate(ctx, accountID, func(_ *models.Account, st *models.AccountSecurityState) (bool, error) {
		now := g.now()
		st.FailedAttempts = 0
		st.LastLoginAt = &now
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}

	return g.audit(ctx, Event{
		Operation: OpLoginSuccess, ResourceType: ResourceUser, ResourceID: a.ID,
		Actor: Actor{ID: a.ID, DisplayName: a.DisplayName}, Success: true, SourceIP: ip,
	})
}

// IsLocked reports the lock flag, clearing it first when the lock duration
// has elapsed. Locks without a timestamp never expire on their own.
func (g *AccessGuard) IsLocked(ctx context.Context, accountID string) (bool, error) {
	a, err := g.repomanager.Accounts(g.db).GetByID(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("load account: %w", err)
	}
	if !g.lockExpired(a.Security) {
		return a.Security.Locked, nil
	}

	var cleared bool
	a, err = g.mutate(ctx, accountID, func(_ *models.Account, st *models.AccountSecurityState) (bool, error) {
		if !g.lockExpired(*st) {
			return false, nil
		}
		st.Locked = false
		st.LockedAt = nil
		st.FailedAttempts = 0
		cleared = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("clear expired lock: %w", err)
	}

	if cleared {
		g.logger.Info(ctx, "account lock expired", "account_id", accountID)
		if err := g.audit(ctx, Event{
			Operation: OpAccountUnlocked, ResourceType: ResourceUser, ResourceID: accountID,
			Details: "lock duration elapsed", Success: true,
		}); err != nil {
			return a.Security.Locked, err
		}
	}
	return a.Security.Locked, nil
}

func (g *AccessGuard) lockExpired(st models.AccountSecurityState) bool {
	return st.Locked && st.LockedAt != nil && g.now().Sub(*st.LockedAt) >= g.lockDuration
}

// UnlockTime returns when a timed lock will lapse. ok is false when the
// account is not locked or the lock has no expiry.
func (g *AccessGuard) UnlockTime(ctx context.Context, accountID string) (time.Time, bool, error) {
	a, err := g.repomanager.Accounts(g.db).GetByID(ctx, accountID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load account: %w", err)
	}
	if !a.Security.Locked || a.Security.LockedAt == nil {
		return time.Time{}, false, nil
	}
	return a.Security.LockedAt.Add(g.lockDuration), true, nil
}

// CheckPasswordExpiry flags the account for a forced password change once
// the password is older than the expiry period and returns the flag.
func (g *AccessGuard) CheckPasswordExpiry(ctx context.Context, accountID string) (bool, error) {
	a, err := g.mutate(ctx, accountID, func(a *models.Account, st *models.AccountSecurityState) (bool, error) {
		changed := false
		if st.LastPasswordChangeAt == nil {
			created := a.CreatedAt
			st.LastPasswordChangeAt = &created
			changed = true
		}
		if !st.PasswordChangeRequired && g.now().Sub(*st.LastPasswordChangeAt) >= g.passwordExpiry {
			st.PasswordChangeRequired = true
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return false, fmt.Errorf("check password expiry: %w", err)
	}
	return a.Security.PasswordChangeRequired, nil
}

// CheckSession expires an idle session or extends an active one.
func (g *AccessGuard) CheckSession(ctx context.Context, accountID string) error {
	_, err := g.mutate(ctx, accountID, func(_ *models.Account, st *models.AccountSecurityState) (bool, error) {
		now := g.now()
		if st.LastLoginAt == nil || now.Sub(*st.LastLoginAt) > g.sessionTimeout {
			return false, common.ErrSessionExpired
		}
		st.LastLoginAt = &now
		return true, nil
	})
	if err != nil {
		if errors.Is(err, common.ErrSessionExpired) {
			return err
		}
		return fmt.Errorf("check session: %w", err)
	}
	return nil
}

// EndSession clears the activity timestamp so the next CheckSession fails.
func (g *AccessGuard) EndSession(ctx context.Context, accountID string) error {
	_, err := g.mutate(ctx, accountID, func(_ *models.Account, st *models.AccountSecurityState) (bool, error) {
		st.LastLoginAt = nil
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Gate rejects every operation but the password-change allow-list while a
// password change is pending.
func (g *AccessGuard) Gate(ctx context.Context, accountID, operation string) error {
	a, err := g.repomanager.Accounts(g.db).GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if a.Security.PasswordChangeRequired && !g.PasswordChangeOperation(operation) {
		return common.ErrPasswordExpired
	}
	return nil
}

// PasswordChangeOperation reports whether operation is reachable while a
// password change is pending.
func (g *AccessGuard) PasswordChangeOperation(operation string) bool {
	_, ok := g.passwordChangeOps[operation]
	return ok
}

// Admit runs the per-request checks in order: lock, session, password gate.
func (g *AccessGuard) Admit(ctx context.Context, accountID, operation string) error {
	locked, err := g.IsLocked(ctx, accountID)
	if err != nil {
		return err
	}
	if locked {
		return common.ErrAccountLocked
	}
	if err := g.CheckSession(ctx, accountID); err != nil {
		return err
	}
	return g.Gate(ctx, accountID, operation)
}

// RequireRole returns common.ErrForbidden unless the account holds role.
func (g *AccessGuard) RequireRole(ctx context.Context, accountID, role string) error {
	ok, err := g.repomanager.Accounts(g.db).HasRole(ctx, accountID, role)
	if err != nil {
		return fmt.Errorf("role lookup: %w", err)
	}
	if !ok {
		return common.ErrForbidden
	}
	return nil
}

// Lock locks the account on behalf of an administrator.
func (g *AccessGuard) Lock(ctx context.Context, accountID string, actor Actor, ip string) error {
	_, err := g.mutate(ctx, accountID, func(_ *models.Account, st *models.AccountSecurityState) (bool, error) {
		now := g.now()
		st.Locked = true
		st.LockedAt = &now
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	return g.audit(ctx, Event{
		Operation: OpAccountLocked, ResourceType: ResourceUser, ResourceID: accountID,
		Actor: actor, Details: "locked by administrator", Success: true, SourceIP: ip,
	})
}

// Unlock clears the lock and the failure counter.
func (g *AccessGuard) Unlock(ctx context.Context, accountID string, actor Actor, ip string) error {
	_, err := g.mutate(ctx, accountID, func(_ *models.Account, st *models.AccountSecurityState) (bool, error) {
		st.Locked = false
		st.LockedAt = nil
		st.FailedAttempts = 0
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	return g.audit(ctx, Event{
		Operation: OpAccountUnlocked, ResourceType: ResourceUser, ResourceID: accountID,
		Actor: actor, Details: "unlocked by administrator", Success: true, SourceIP: ip,
	})
}

func (g *AccessGuard) audit(ctx context.Context, ev Event) error {
	if _, err := g.auditor.Append(ctx, ev); err != nil {
		g.logger.Error(ctx, "audit append failed", "operation", ev.Operation, "error", err)
		return err
	}
	return nil
}

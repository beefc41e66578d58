// Package services contains server-side business logic: the audit ledger,
// the access guard and the account flows built on them.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/cryptox"
	"github.com/dmitrijs2005/recordguard/internal/dbx"
	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/maskx"
	"github.com/dmitrijs2005/recordguard/internal/server/auth"
	"github.com/dmitrijs2005/recordguard/internal/server/config"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// NewAccount is the input for AccountService.Create.
type NewAccount struct {
	Username    string
	DisplayName string
	Password    string
	Email       string
	Phone       string
	Roles       []string
}

// LoginResult is returned on successful authentication. When
// PasswordChangeRequired is set the token only reaches the password-change
// operations.
type LoginResult struct {
	AccountID              string
	AccessToken            string
	PasswordChangeRequired bool
}

// AccountService implements account creation, login and credential
// management on top of AccessGuard and the audit ledger.
type AccountService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	guard                       *AccessGuard
	auditor                     Auditor
	encoder                     *auth.PasswordEncoder
	policy                      auth.PasswordPolicy
	cipher                      *cryptox.FieldCipher
	logger                      logging.Logger
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
	now                         func() time.Time
}

func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, guard *AccessGuard, auditor Auditor,
	cipher *cryptox.FieldCipher, cfg *config.Config, logger logging.Logger) *AccountService {
	return &AccountService{
		db:                          db,
		repomanager:                 m,
		guard:                       guard,
		auditor:                     auditor,
		encoder:                     auth.NewPasswordEncoder(),
		policy:                      auth.NewPasswordPolicy(cfg.PasswordMinLength),
		cipher:                      cipher,
		logger:                      logger.With("module", "account_service"),
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
		now:                         time.Now,
	}
}

// Create stores a new account. The first login must change the password.
func (s *AccountService) Create(ctx context.Context, in NewAccount, actor Actor, ip string) (*models.Account, error) {
	if strings.TrimSpace(in.Username) == "" {
		return nil, fmt.Errorf("%w: username is required", common.ErrInvalidInput)
	}
	if err := s.policy.Check(in.Password); err != nil {
		return nil, err
	}

	credential, err := s.encoder.Encode(in.Password)
	if err != nil {
		return nil, err
	}
	email, err := s.cipher.Encrypt(in.Email)
	if err != nil {
		return nil, err
	}
	phone, err := s.cipher.Encrypt(in.Phone)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a := &models.Account{
		ID:          uuid.NewString(),
		Username:    in.Username,
		DisplayName: in.DisplayName,
		Credential:  credential,
		Email:       email,
		Phone:       phone,
		CreatedAt:   now,
		Security: models.AccountSecurityState{
			LastPasswordChangeAt:   &now,
			PasswordChangeRequired: true,
		},
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		if _, err := repo.Create(ctx, a); err != nil {
			return err
		}
		for _, role := range in.Roles {
			if err := repo.AddRole(ctx, a.ID, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}

	if _, err := s.auditor.Append(ctx, Event{
		Operation: OpCreateAccount, ResourceType: ResourceUser, ResourceID: a.ID, Actor: actor,
		Details: "created account " + a.Username, Success: true, SourceIP: ip,
	}); err != nil {
		return nil, err
	}

	a.Email, a.Phone = in.Email, in.Phone
	a.Credential = ""
	return a, nil
}

// Login authenticates username/password. Unknown users and wrong passwords
// yield the same common.ErrorUnauthorized.
func (s *AccountService) Login(ctx context.Context, username, password, ip string) (*LoginResult, error) {
	a, err := s.repomanager.Accounts(s.db).GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "account lookup failed", "error", err)
			return nil, common.ErrorInternal
		}
		// keep timing close to the known-user path
		s.encoder.Matches(password, dummyCredential)
		if _, err := s.auditor.Append(ctx, Event{
			Operation: OpLoginFailed, ResourceType: ResourceUser,
			Details: "unknown username", ErrorMessage: "invalid credentials", SourceIP: ip,
		}); err != nil {
			return nil, common.ErrorInternal
		}
		return nil, common.ErrorUnauthorized
	}

	locked, err := s.guard.IsLocked(ctx, a.ID)
	if err != nil {
		s.logger.Error(ctx, "lock check failed", "error", err)
		return nil, common.ErrorInternal
	}
	if locked {
		if _, err := s.auditor.Append(ctx, Event{
			Operation: OpLoginFailed, ResourceType: ResourceUser, ResourceID: a.ID,
			Actor:   Actor{ID: a.ID, DisplayName: a.DisplayName},
			Details: "account is locked", ErrorMessage: common.ErrAccountLocked.Error(), SourceIP: ip,
		}); err != nil {
			return nil, common.ErrorInternal
		}
		return nil, common.ErrAccountLocked
	}

	if !s.encoder.Matches(password, a.Credential) {
		lockedNow, err := s.guard.RecordFailure(ctx, a.ID, ip, "invalid credentials")
		if err != nil {
			s.logger.Error(ctx, "record failure failed", "error", err)
			return nil, common.ErrorInternal
		}
		if lockedNow {
			return nil, common.ErrAccountLocked
		}
		return nil, common.ErrorUnauthorized
	}

	if err := s.guard.RecordSuccess(ctx, a.ID, ip); err != nil {
		s.logger.Error(ctx, "record success failed", "error", err)
		return nil, common.ErrorInternal
	}
	required, err := s.guard.CheckPasswordExpiry(ctx, a.ID)
	if err != nil {
		s.logger.Error(ctx, "password expiry check failed", "error", err)
		return nil, common.ErrorInternal
	}

	token, err := auth.GenerateToken(a.ID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &LoginResult{AccountID: a.ID, AccessToken: token, PasswordChangeRequired: required}, nil
}

// ChangePassword replaces the caller's own password after verifying the
// current one, and lifts a pending forced change. The check and the update
// hold the account row lock.
func (s *AccountService) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword, ip string) error {
	var (
		actor    Actor
		mismatch bool
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)

		a, err := repo.GetForUpdate(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		actor = Actor{ID: a.ID, DisplayName: a.DisplayName}

		if !s.encoder.Matches(oldPassword, a.Credential) {
			mismatch = true
			return nil
		}
		if err := s.policy.Check(newPassword); err != nil {
			return err
		}
		if oldPassword == newPassword {
			return fmt.Errorf("%w: new password must differ from the current one", common.ErrInvalidInput)
		}

		credential, err := s.encoder.Encode(newPassword)
		if err != nil {
			return err
		}
		if err := repo.UpdateCredential(ctx, a.ID, credential, s.now(), false); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if mismatch {
		if _, err := s.auditor.Append(ctx, Event{
			Operation: OpChangePassword, ResourceType: ResourceUser, ResourceID: actor.ID, Actor: actor,
			ErrorMessage: "current password mismatch", SourceIP: ip,
		}); err != nil {
			return err
		}
		return common.ErrorUnauthorized
	}

	_, err = s.auditor.Append(ctx, Event{
		Operation: OpChangePassword, ResourceType: ResourceUser, ResourceID: actor.ID, Actor: actor,
		Success: true, SourceIP: ip,
	})
	return err
}

// ResetPassword sets a new password on behalf of an administrator and
// forces a change at the next login.
func (s *AccountService) ResetPassword(ctx context.Context, accountID, newPassword string, actor Actor, ip string) error {
	if err := s.policy.Check(newPassword); err != nil {
		return err
	}
	credential, err := s.encoder.Encode(newPassword)
	if err != nil {
		return err
	}
	if err := s.repomanager.Accounts(s.db).UpdateCredential(ctx, accountID, credential, s.now(), true); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	_, err = s.auditor.Append(ctx, Event{
		Operation: OpResetPassword, ResourceType: ResourceUser, ResourceID: accountID, Actor: actor,
		Details: "password reset, change required at next login", Success: true, SourceIP: ip,
	})
	return err
}

// Profile returns the account with sensitive attributes decrypted and the
// credential stripped.
func (s *AccountService) Profile(ctx context.Context, accountID string) (*models.Account, error) {
	a, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if a.Email, err = s.cipher.Decrypt(a.Email); err != nil {
		return nil, fmt.Errorf("decrypt email: %w", err)
	}
	if a.Phone, err = s.cipher.Decrypt(a.Phone); err != nil {
		return nil, fmt.Errorf("decrypt phone: %w", err)
	}
	a.Credential = ""
	return a, nil
}

// MaskedProfile is Profile for display to anyone but the account holder:
// email and phone keep only their edges.
func (s *AccountService) MaskedProfile(ctx context.Context, accountID string) (*models.Account, error) {
	a, err := s.Profile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	a.Email = maskx.Email(a.Email)
	a.Phone = maskx.Phone(a.Phone)
	return a, nil
}

// Logout ends the session and records it.
func (s *AccountService) Logout(ctx context.Context, accountID, ip string) error {
	if err := s.guard.EndSession(ctx, accountID); err != nil {
		return err
	}
	_, err := s.auditor.Append(ctx, Event{
		Operation: OpLogout, ResourceType: ResourceUser, ResourceID: accountID,
		Actor: Actor{ID: accountID}, Success: true, SourceIP: ip,
	})
	return err
}

// dummyCredential is well-formed but matches no password.
const dummyCredential = "AAAAAAAAAAAAAAAAAAAAAA==:0000000000000000000000000000000000000000000000000000000000000000"

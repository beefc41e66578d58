package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/dbx"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
)

const selectAccount = `SELECT id, username, display_name, credential, email, phone,
		 failed_attempts, locked, locked_at, last_password_change_at, last_login_at,
		 password_change_required, created_at
		 FROM accounts`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO accounts (id, username, display_name, credential, email, phone,
		 last_password_change_at, password_change_required, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 `

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Username, a.DisplayName, a.Credential,
		dbx.NullString(a.Email), dbx.NullString(a.Phone),
		a.Security.LastPasswordChangeAt, a.Security.PasswordChangeRequired, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return a, nil
}

func (r *PostgresRepository) AddRole(ctx context.Context, accountID, role string) error {
	query :=
		`INSERT INTO account_roles (account_id, role)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING
		 `

	if _, err := r.db.ExecContext(ctx, query, accountID, role); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getOne(ctx, selectAccount+" WHERE id = $1", id)
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.getOne(ctx, selectAccount+" WHERE username = $1", username)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Account, error) {
	return r.getOne(ctx, selectAccount+" WHERE id = $1 FOR UPDATE", id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) UpdateSecurityState(ctx context.Context, id string, s models.AccountSecurityState) error {
	query :=
		`UPDATE accounts SET failed_attempts = $2, locked = $3, locked_at = $4,
		 last_password_change_at = $5, last_login_at = $6, password_change_required = $7
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id,
		s.FailedAttempts, s.Locked, s.LockedAt, s.LastPasswordChangeAt, s.LastLoginAt, s.PasswordChangeRequired)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) UpdateCredential(ctx context.Context, id, credential string, changedAt time.Time, changeRequired bool) error {
	query :=
		`UPDATE accounts SET credential = $2, last_password_change_at = $3, password_change_required = $4
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id, credential, changedAt, changeRequired)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) HasRole(ctx context.Context, id, role string) (bool, error) {
	query :=
		`SELECT EXISTS (SELECT 1 FROM account_roles WHERE account_id = $1 AND role = $2)
		 `

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, id, role).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a                          models.Account
		email, phone               sql.NullString
		lockedAt, changedAt, login sql.NullTime
	)

	err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &a.Credential, &email, &phone,
		&a.Security.FailedAttempts, &a.Security.Locked, &lockedAt, &changedAt, &login,
		&a.Security.PasswordChangeRequired, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	a.Email = email.String
	a.Phone = phone.String
	a.Security.LockedAt = dbx.TimePtr(lockedAt)
	a.Security.LastPasswordChangeAt = dbx.TimePtr(changedAt)
	a.Security.LastLoginAt = dbx.TimePtr(login)

	return &a, nil
}

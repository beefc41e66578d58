package accounts

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountColumns = []string{
	"id", "username", "display_name", "credential", "email", "phone",
	"failed_attempts", "locked", "locked_at", "last_password_change_at", "last_login_at",
	"password_change_required", "created_at",
}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	q := `(?s)^INSERT\s+INTO\s+accounts\s*\(id,\s*username,.*\)\s*VALUES\s*\(\$1,.*\$9\)\s*$`

	mock.ExpectExec(q).
		WithArgs("a-1", "alice", "Alice", "salt:hash",
			sql.NullString{String: "enc-mail", Valid: true}, sql.NullString{},
			sqlmock.AnyArg(), true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	a := &models.Account{
		ID: "a-1", Username: "alice", DisplayName: "Alice", Credential: "salt:hash",
		Email: "enc-mail", CreatedAt: now,
		Security: models.AccountSecurityState{LastPasswordChangeAt: &now, PasswordChangeRequired: true},
	}
	got, err := repo.Create(context.Background(), a)
	require.NoError(t, err)
	assert.Same(t, a, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).WillReturnError(errors.New("duplicate key"))

	_, err := repo.Create(context.Background(), &models.Account{ID: "a-1", Username: "alice"})
	if err == nil || !regexp.MustCompile(`db error: .*duplicate key`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestAddRole(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+account_roles\s*\(account_id,\s*role\).*ON\s+CONFLICT\s+DO\s+NOTHING\s*$`).
		WithArgs("a-1", "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddRole(context.Background(), "a-1", "admin"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUsername_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	locked := created.Add(time.Hour)

	rows := sqlmock.NewRows(accountColumns).
		AddRow("a-1", "alice", "Alice", "salt:hash", nil, "enc-phone",
			5, true, locked, nil, nil, false, created)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*username,.*FROM\s+accounts\s+WHERE\s+username\s*=\s*\$1$`).
		WithArgs("alice").
		WillReturnRows(rows)

	got, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "a-1", got.ID)
	assert.Equal(t, "", got.Email)
	assert.Equal(t, "enc-phone", got.Phone)
	assert.Equal(t, 5, got.Security.FailedAttempts)
	assert.True(t, got.Security.Locked)
	require.NotNil(t, got.Security.LockedAt)
	assert.True(t, locked.Equal(*got.Security.LockedAt))
	assert.Nil(t, got.Security.LastPasswordChangeAt)
	assert.Nil(t, got.Security.LastLoginAt)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+accounts\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetByID_EmptyResult(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+accounts\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(accountColumns))

	_, err := repo.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetForUpdate_LocksRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(accountColumns).
		AddRow("a-1", "alice", "Alice", "c", nil, nil, 0, false, nil, nil, nil, false, time.Now())
	mock.ExpectQuery(`WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE$`).
		WithArgs("a-1").
		WillReturnRows(rows)

	got, err := repo.GetForUpdate(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FOR\s+UPDATE`).WillReturnError(errors.New("deadlock detected"))

	_, err := repo.GetForUpdate(context.Background(), "a-1")
	if err == nil || !regexp.MustCompile(`db error: .*deadlock detected`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestUpdateSecurityState(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+accounts\s+SET\s+failed_attempts\s*=\s*\$2,.*WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).
		WithArgs("a-1", 3, false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateSecurityState(context.Background(), "a-1", models.AccountSecurityState{FailedAttempts: 3})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSecurityState_NoRows(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+accounts`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSecurityState(context.Background(), "ghost", models.AccountSecurityState{})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdateCredential(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	changed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	q := `(?s)^UPDATE\s+accounts\s+SET\s+credential\s*=\s*\$2,\s*last_password_change_at\s*=\s*\$3,\s*password_change_required\s*=\s*\$4.*WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).
		WithArgs("a-1", "new", changed, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateCredential(context.Background(), "a-1", "new", changed, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCredential_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+accounts`).WillReturnError(errors.New("conn reset"))

	err := repo.UpdateCredential(context.Background(), "a-1", "new", time.Now(), false)
	if err == nil || !regexp.MustCompile(`db error: .*conn reset`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestHasRole(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+account_roles\s+WHERE\s+account_id\s*=\s*\$1\s+AND\s+role\s*=\s*\$2\)\s*$`
	mock.ExpectQuery(q).WithArgs("a-1", "auditor").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs("a-1", "admin").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.HasRole(context.Background(), "a-1", "auditor")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasRole(context.Background(), "a-1", "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

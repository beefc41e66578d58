package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/cryptox"
	"github.com/dmitrijs2005/recordguard/internal/dbx"
	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/server/config"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/auditlogs"
	"github.com/stretchr/testify/require"
)

// --- database ---

// newTxDB returns a sqlmock DB that accepts any number of transactions
// (up to a generous bound) in any order. Repositories are fakes, so only
// BEGIN/COMMIT/ROLLBACK reach the driver.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 256; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// --- clock ---

type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newFakeClock(start time.Time, step time.Duration) *fakeClock {
	return &fakeClock{t: start, step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- accounts repository ---

type memAccounts struct {
	mu        sync.Mutex
	byID      map[string]models.Account
	roles     map[string]map[string]bool
	forUpdate int
	getErr    error
	updateErr error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: map[string]models.Account{}, roles: map[string]map[string]bool{}}
}

func (r *memAccounts) put(a models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[a.ID] = a
}

func (r *memAccounts) state(t *testing.T, id string) models.AccountSecurityState {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	require.True(t, ok, "account %s not stored", id)
	return a.Security
}

func (r *memAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Username == a.Username {
			return nil, common.ErrInvalidInput
		}
	}
	r.byID[a.ID] = *a
	return a, nil
}

func (r *memAccounts) AddRole(_ context.Context, id, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[id] == nil {
		r.roles[id] = map[string]bool{}
	}
	r.roles[id][role] = true
	return nil
}

func (r *memAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	a, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &a, nil
}

func (r *memAccounts) GetByUsername(_ context.Context, username string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	for _, a := range r.byID {
		if a.Username == username {
			a := a
			return &a, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memAccounts) GetForUpdate(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	r.forUpdate++
	r.mu.Unlock()
	return r.GetByID(ctx, id)
}

func (r *memAccounts) UpdateSecurityState(_ context.Context, id string, st models.AccountSecurityState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.Security = st
	r.byID[id] = a
	return nil
}

func (r *memAccounts) UpdateCredential(_ context.Context, id, credential string, changedAt time.Time, required bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	a, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.Credential = credential
	a.Security.LastPasswordChangeAt = &changedAt
	a.Security.PasswordChangeRequired = required
	r.byID[id] = a
	return nil
}

func (r *memAccounts) HasRole(_ context.Context, id, role string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles[id][role], nil
}

// --- audit log repository ---

type memAuditLogs struct {
	mu        sync.Mutex
	entries   []models.AuditLogEntry
	createErr error
}

func (r *memAuditLogs) Create(_ context.Context, e *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memAuditLogs) GetByID(_ context.Context, id string) (*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			e := e
			return &e, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memAuditLogs) ListBetween(_ context.Context, from, to time.Time) ([]*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLogEntry
	for _, e := range r.sorted() {
		if !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r *memAuditLogs) ForEach(_ context.Context, until time.Time, fn func(*models.AuditLogEntry) error) error {
	r.mu.Lock()
	snapshot := r.sorted()
	r.mu.Unlock()
	for _, e := range snapshot {
		if e.CreatedAt.After(until) {
			continue
		}
		e := e
		if err := fn(&e); err != nil {
			return err
		}
	}
	return nil
}

func (r *memAuditLogs) Search(_ context.Context, f auditlogs.Filter) ([]*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLogEntry
	for _, e := range r.sorted() {
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.Keyword != "" && !strings.Contains(strings.ToLower(e.Details), strings.ToLower(f.Keyword)) {
			continue
		}
		e := e
		out = append([]*models.AuditLogEntry{&e}, out...)
	}
	return out, nil
}

func (r *memAuditLogs) sorted() []models.AuditLogEntry {
	out := append([]models.AuditLogEntry(nil), r.entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// tamper edits a stored entry in place without touching its tag.
func (r *memAuditLogs) tamper(t *testing.T, id string, fn func(e *models.AuditLogEntry)) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			fn(&r.entries[i])
			return
		}
	}
	t.Fatalf("entry %s not found", id)
}

func (r *memAuditLogs) byOperation(op string) []models.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditLogEntry
	for _, e := range r.entries {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out
}

// --- repository manager ---

type fakeRepoManager struct {
	acc  *memAccounts
	logs *memAuditLogs
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{acc: newMemAccounts(), logs: &memAuditLogs{}}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Accounts(db dbx.DBTX) accounts.Repository     { return m.acc }
func (m *fakeRepoManager) AuditLogs(db dbx.DBTX) auditlogs.Repository   { return m.logs }

// --- auditor ---

type recordingAuditor struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (a *recordingAuditor) Append(_ context.Context, ev Event) (*models.AuditLogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.events = append(a.events, ev)
	return &models.AuditLogEntry{Operation: ev.Operation}, nil
}

func (a *recordingAuditor) ops() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Operation)
	}
	return out
}

// --- fixtures ---

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	return cfg
}

func testKeyMaterial(t *testing.T) *cryptox.KeyMaterial {
	t.Helper()
	km, err := cryptox.NewKeyMaterial([]byte("logSecurityKey"), []byte("a123456789012345"), []byte("1234567890123456"))
	require.NoError(t, err)
	return km
}

func discardLogger() logging.Logger {
	return logging.NewDiscardLogger()
}

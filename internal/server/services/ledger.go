package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/cryptox"
	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Ledger operation names.
const (
	OpLoginSuccess    = "LOGIN_SUCCESS"
	OpLoginFailed     = "LOGIN_FAILED"
	OpLogout          = "LOGOUT"
	OpAccountLocked   = "ACCOUNT_LOCKED"
	OpAccountUnlocked = "ACCOUNT_UNLOCKED"
	OpCreateAccount   = "CREATE_ACCOUNT"
	OpChangePassword  = "CHANGE_PASSWORD"
	OpResetPassword   = "RESET_PASSWORD"
	OpIntegrityCheck  = "LOG_INTEGRITY_CHECK"
)

// Ledger resource types.
const (
	ResourceUser   = "USER"
	ResourceSystem = "SYSTEM"
)

const canonicalSeparator = "\x1f"

const summaryLayout = "integrity check %s - %s: checked %d, failed %d"

var summaryDetails = regexp.MustCompile(`^integrity check \S+ - \S+: checked \d+, failed (\d+)$`)

// Actor identifies who performed an audited action. The zero value means
// the system itself.
type Actor struct {
	ID          string
	DisplayName string
}

// Event is the caller-supplied part of a ledger entry.
type Event struct {
	Operation    string
	ResourceType string
	ResourceID   string
	Actor        Actor
	Details      string
	Success      bool
	ErrorMessage string
	SourceIP     string
}

// Auditor is the write side of the ledger as seen by other services.
type Auditor interface {
	Append(ctx context.Context, ev Event) (*models.AuditLogEntry, error)
}

// IntegrityAlerter is notified when a batch verification finds tampered
// entries. Implementations live in the alert package.
type IntegrityAlerter interface {
	IntegrityViolation(ctx context.Context, report *models.IntegrityReport) error
}

// AuditLedger appends integrity-tagged entries and re-verifies them.
type AuditLedger struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	digestKey   []byte
	alerter     IntegrityAlerter
	logger      logging.Logger
	now         func() time.Time
}

// LedgerOption customizes an AuditLedger.
type LedgerOption func(*AuditLedger)

// WithAlerter sets the sink notified about failed batch verifications.
func WithAlerter(a IntegrityAlerter) LedgerOption {
	return func(l *AuditLedger) { l.alerter = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *AuditLedger) { l.now = now }
}

func NewAuditLedger(db *sql.DB, m repomanager.RepositoryManager, keys *cryptox.KeyMaterial, logger logging.Logger, opts ...LedgerOption) *AuditLedger {
	l := &AuditLedger{
		db:          db,
		repomanager: m,
		digestKey:   keys.DigestKey(),
		logger:      logger.With("module", "audit_ledger"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append builds, tags and stores one entry.
func (l *AuditLedger) Append(ctx context.Context, ev Event) (*models.AuditLogEntry, error) {
	e := l.newEntry(ev)
	e.IntegrityTag = l.tag(e)

	if err := l.repomanager.AuditLogs(l.db).Create(ctx, e); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return e, nil
}

// appendUntagged stores an entry without an integrity tag. Only integrity
// check summaries are written this way.
func (l *AuditLedger) appendUntagged(ctx context.Context, ev Event) (*models.AuditLogEntry, error) {
	e := l.newEntry(ev)
	if err := l.repomanager.AuditLogs(l.db).Create(ctx, e); err != nil {
		return nil, fmt.Errorf("append audit summary: %w", err)
	}
	return e, nil
}

func (l *AuditLedger) newEntry(ev Event) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		ID:           uuid.NewString(),
		Operation:    ev.Operation,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		ActorID:      ev.Actor.ID,
		ActorName:    ev.Actor.DisplayName,
		IPAddress:    ev.SourceIP,
		Details:      ev.Details,
		Success:      ev.Success,
		ErrorMessage: ev.ErrorMessage,
		// postgres keeps microseconds; the tag must survive the round trip
		CreatedAt: l.now().UTC().Truncate(time.Microsecond),
	}
}

// Canonical returns the string an entry's integrity tag is computed over.
// The id slot is always empty because the tag is computed before the entry
// is known to the store.
func Canonical(e *models.AuditLogEntry) string {
	return strings.Join([]string{
		"",
		e.Operation,
		e.ResourceType,
		e.ResourceID,
		e.ActorID,
		e.IPAddress,
		e.Details,
		strconv.FormatBool(e.Success),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, canonicalSeparator)
}

func (l *AuditLedger) tag(e *models.AuditLogEntry) string {
	return cryptox.KeyedHashHex([]byte(Canonical(e)), l.digestKey)
}

func (l *AuditLedger) valid(e *models.AuditLogEntry) bool {
	if !e.IsSigned() {
		return isSummary(e)
	}
	want := l.tag(e)
	got := strings.ToLower(e.IntegrityTag)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// isSummary reports whether an untagged entry has exactly the shape
// VerifyBatch writes. Anything else without a tag is tampered.
func isSummary(e *models.AuditLogEntry) bool {
	if e.Operation != OpIntegrityCheck || e.ResourceType != ResourceSystem {
		return false
	}
	if e.ResourceID != "" || e.ActorID != "" || e.ActorName != "" || e.IPAddress != "" {
		return false
	}
	m := summaryDetails.FindStringSubmatch(e.Details)
	if m == nil {
		return false
	}
	return e.Success == (m[1] == "0")
}

// Verify reloads the entry and recomputes its tag. A mismatch is reported
// as false with a nil error.
func (l *AuditLedger) Verify(ctx context.Context, id string) (bool, error) {
	e, err := l.repomanager.AuditLogs(l.db).GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("verify audit entry %s: %w", id, err)
	}
	return l.valid(e), nil
}

// VerifyBatch checks every entry created in [from, to], records an untagged
// summary entry and raises an alert when anything failed.
func (l *AuditLedger) VerifyBatch(ctx context.Context, from, to time.Time) (*models.IntegrityReport, error) {
	report := &models.IntegrityReport{From: from, To: to, StartedAt: l.now()}

	entries, err := l.repomanager.AuditLogs(l.db).ListBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load audit window: %w", err)
	}

	for _, e := range entries {
		report.Checked++
		if !l.valid(e) {
			report.Failed = append(report.Failed, e.ID)
		}
	}
	report.FinishedAt = l.now()

	summary := Event{
		Operation:    OpIntegrityCheck,
		ResourceType: ResourceSystem,
		Details: fmt.Sprintf(summaryLayout,
			from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), report.Checked, len(report.Failed)),
		Success: !report.HasFailures(),
	}
	if report.HasFailures() {
		summary.ErrorMessage = "tampered entries: " + strings.Join(report.Failed, ", ")
	}
	if _, err := l.appendUntagged(ctx, summary); err != nil {
		return report, err
	}

	if !report.HasFailures() {
		l.logger.Info(ctx, "audit integrity check passed", "checked", report.Checked)
		return report, nil
	}

	l.logger.Error(ctx, "audit integrity violation",
		"checked", report.Checked, "failed", len(report.Failed), "ids", strings.Join(report.Failed, ", "))

	if l.alerter != nil {
		if err := l.alerter.IntegrityViolation(ctx, report); err != nil {
			l.logger.Error(ctx, "integrity alert failed", "error", err)
		}
	}
	return report, nil
}

// VerifyAll scans every entry written up to the start of the call and
// returns the IDs whose tag does not reproduce.
func (l *AuditLedger) VerifyAll(ctx context.Context) ([]string, error) {
	until := l.now()
	failed := []string{}

	err := l.repomanager.AuditLogs(l.db).ForEach(ctx, until, func(e *models.AuditLogEntry) error {
		if !l.valid(e) {
			failed = append(failed, e.ID)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	if len(failed) > 0 {
		l.logger.Error(ctx, "audit integrity violation", "failed", len(failed), "ids", strings.Join(failed, ", "))
	}
	return failed, nil
}

// Get returns a single entry.
func (l *AuditLedger) Get(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	return l.repomanager.AuditLogs(l.db).GetByID(ctx, id)
}

// Search lists entries matching f, newest first.
func (l *AuditLedger) Search(ctx context.Context, f auditlogs.Filter) ([]*models.AuditLogEntry, error) {
	return l.repomanager.AuditLogs(l.db).Search(ctx, f)
}

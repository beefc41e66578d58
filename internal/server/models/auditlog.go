package models

import "time"

// AuditLogEntry is one immutable ledger record. Optional text fields use ""
// for absent values. IntegrityTag is the hex keyed digest computed before the
// first insert; it is empty only for integrity-check summaries.
type AuditLogEntry struct {
	ID           string
	Operation    string
	ResourceType string
	ResourceID   string
	ActorID      string
	ActorName    string
	IPAddress    string
	Details      string
	Success      bool
	ErrorMessage string
	IntegrityTag string
	CreatedAt    time.Time
}

// IsSigned reports whether the entry carries an integrity tag.
func (e *AuditLogEntry) IsSigned() bool {
	return e.IntegrityTag != ""
}

// IntegrityReport is the outcome of one batch verification run.
type IntegrityReport struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Checked    int       `json:"checked"`
	Failed     []string  `json:"failed_ids"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// HasFailures reports whether any entry failed verification.
func (r *IntegrityReport) HasFailures() bool {
	return len(r.Failed) > 0
}
